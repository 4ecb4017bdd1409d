package privval

import (
	"errors"

	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrDoubleVote         = errors.New("double vote: different hash set at an already-signed sequence")
	ErrSequenceRegression = errors.New("vote sequence regression")
	ErrSignerNotFound     = errors.New("signer not found")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnknownSession     = errors.New("unknown staple session")
	ErrNonceConsumed      = errors.New("nonce already consumed for this session")
)

// PrivValidator signs votes on behalf of a representative account. Unlike
// a BFT validator's height/round/step, a representative has a single
// per-account monotonic Sequence (spec.md's vote.sequence); SignVote
// refuses to sign two different hash sets at the same sequence, the
// block-lattice analogue of double-signing.
type PrivValidator interface {
	// GetAccount returns the representative's account (its Ed25519
	// public key).
	GetAccount() types.Account

	// SignVote fills in vote.Signature, rejecting the vote if it would
	// be an equivocation against a previously signed vote at the same
	// or a lower sequence. vote.Account must already equal GetAccount().
	SignVote(vote *types.Vote) error
}

// LastSignState tracks the last vote signed, for double-vote prevention.
type LastSignState struct {
	HasSigned    bool
	Sequence     uint64
	HashesDigest types.Hash
	Signature    types.Signature
}

// CheckSequence reports whether a vote at sequence over the hashes
// digested into digest may be signed given the previously recorded
// state. A strictly higher sequence is always allowed; a repeat of the
// exact last sequence/digest is allowed (idempotent re-signing, e.g. a
// retransmit after a crash before saveState completed); anything else
// at or below the last sequence is an equivocation or a regression.
func (lss *LastSignState) CheckSequence(sequence uint64, digest types.Hash) error {
	if !lss.HasSigned || sequence > lss.Sequence {
		return nil
	}
	if sequence == lss.Sequence {
		if types.HashEqual(digest, lss.HashesDigest) {
			return nil
		}
		return ErrDoubleVote
	}
	return ErrSequenceRegression
}

// StapleSigner is the two-round Schnorr signer a representative exposes
// to musig.VoteStapler and musig.VoteStapleRequester. Each stage0/stage1
// round is identified by a session ID (the staple's block hash combined
// with the requesting rep's nonce, chosen by the caller) so a signer can
// run multiple concurrent staple sessions without nonce collision.
//
// A fresh, uniformly random nonce MUST be generated for every session
// and MUST NEVER be reused across two different challenges: reusing a
// Schnorr nonce against two distinct challenges leaks the private
// scalar. CommitNonce enforces this by consuming the session on the
// first PartialSign call.
type StapleSigner interface {
	// Account returns the representative's account.
	Account() types.Account

	// SchnorrPoint returns the representative's long-term Schnorr
	// public point (for FilePV, its scalar is derived from the same seed
	// as the Ed25519 key rather than being the Ed25519 scalar itself).
	SchnorrPoint() kyber.Point

	// CommitNonce begins a new session, returning the nonce commitment
	// R to broadcast in stage0.
	CommitNonce(session types.Hash) (kyber.Point, error)

	// PartialSign completes session with the aggregated challenge
	// scalar, returning this signer's partial signature s_i and
	// consuming the session's nonce.
	PartialSign(session types.Hash, challenge kyber.Scalar) (kyber.Scalar, error)

	// DiscardSession releases a session's nonce without signing, used
	// when a staple round times out or is superseded.
	DiscardSession(session types.Hash)
}
