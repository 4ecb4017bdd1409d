// Package musig implements the vote-stapling protocol: a two-round
// MuSig-style Schnorr multi-signature that compresses many
// representatives' votes for a state block into one aggregate signature
// plus a compact XOR fingerprint of the contributing public keys.
//
// # Roles
//
// VoteStapler plays the server role: representatives reachable on this
// node answer stage0 (nonce commitment) and stage1 (partial signature)
// requests from whichever peer is assembling a staple.
//
// VoteStapleRequester plays the client role: it recruits enough
// representative weight, fans out stage0/stage1 requests, and assembles
// the final aggregate signature.
//
// RepXorSolver is run by a block's receivers: given a staple's reps_xor
// fingerprint, it recovers which subset of the network's top
// representatives signed, so the aggregate signature can be verified
// without the staple listing every signer.
//
// # Cryptography
//
// All Schnorr arithmetic runs on go.dedis.ch/kyber/v3's edwards25519
// group, the same group privval.FilePV derives its Schnorr scalar from.
// The MuSig coefficient a_i = H(L_base, X_i) and the aggregate challenge
// e = H(L_base, agg_pubkey, R_total, block_hash) both domain-separate via
// L_base, the hash of the full ordered list of participant public
// points, preventing rogue-key attacks where a participant chooses its
// public key as a function of the others'.
//
// # Thread Safety
//
// VoteStapler and VoteStapleRequester each guard their multi-indexed
// session state under one mutex apiece, per spec.md's concurrency
// model; neither type holds its own lock while invoking a signer or
// transport callback.
package musig
