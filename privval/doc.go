// Package privval implements a representative's key manager, with
// equivocation prevention for the votes it signs.
//
// A representative holds the Ed25519 private key used to sign plain
// votes, and a Schnorr scalar on the edwards25519 group (derived from
// the same seed) used to participate in vote-stapling sessions run by
// package musig. The key responsibility is preventing equivocation:
// signing two different hash sets at the same vote sequence would let
// a representative's weight be counted for conflicting blocks at once.
//
// # Core Interfaces
//
//	type PrivValidator interface {
//	    GetAccount() types.Account
//	    SignVote(vote *types.Vote) error
//	}
//
//	type StapleSigner interface {
//	    Account() types.Account
//	    SchnorrPoint() kyber.Point
//	    CommitNonce(session types.Hash) (kyber.Point, error)
//	    PartialSign(session types.Hash, challenge kyber.Scalar) (kyber.Scalar, error)
//	    DiscardSession(session types.Hash)
//	}
//
// # Equivocation Prevention
//
// LastSignState tracks the last vote sequence and hash-set digest signed
// by this representative. Before signing any vote, the validator checks:
//
//  1. Never sign two different hash sets at the same sequence.
//  2. Never regress to a lower sequence (after restart).
//  3. Persist state before returning from SignVote.
//
// This prevents equivocation even across crashes and restarts, the
// block-lattice analogue of height/round/step double-sign prevention.
//
// # Schnorr Nonce Discipline
//
// CommitNonce draws a fresh, uniformly random nonce scalar for each
// staple session and returns only its public commitment. PartialSign
// consumes (deletes) that nonce the moment it is used, so no nonce is
// ever reused across two different challenges — reuse would leak the
// representative's private scalar to anyone who sees both partial
// signatures.
//
// # Implementation
//
// FilePV: file-based key manager with two files:
//
//   - key.json: Ed25519 private key and account (rarely changes)
//   - state.json: LastSignState (updated on every signature)
//
// # File Format
//
// key.json:
//
//	{
//	  "pub_key": "03A2B5...",
//	  "priv_key": "F3C1D2..."
//	}
//
// state.json:
//
//	{
//	  "sequence": 100,
//	  "hashes_digest": "A1B2C3...",
//	  "signature": "D4E5F6..."
//	}
//
// # Security Considerations
//
// Key file should have restricted permissions (0600). Never log or
// expose the private key or Schnorr scalar. State must be persisted
// before a signature is returned to the caller. Only one FilePV
// instance should access a given key/state file pair.
//
// # Usage Example
//
//	pv, err := privval.NewFilePV("key.json", "state.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	vote := &types.Vote{Account: pv.GetAccount(), Sequence: 100, Hashes: []types.Hash{h}}
//	if err := pv.SignVote(vote); err != nil {
//	    log.Fatal(err) // might be ErrDoubleVote
//	}
package privval
