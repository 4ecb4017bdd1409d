package types

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
)

// Errors
var (
	ErrInvalidVote  = errors.New("invalid vote")
	ErrVoteReplay   = errors.New("vote sequence is not greater than the last known sequence")
)

// Vote is a representative's signed statement that it favors the given
// block hashes at the given chain position. Sequence is monotonic per
// account; a vote with a lower-or-equal sequence than one already seen
// from the same account is a replay.
type Vote struct {
	Account   Account
	Sequence  uint64
	Hashes    []Hash
	Signature Signature
}

// SignBytes returns the canonical bytes signed by a vote: the
// sequence-prefixed list of hashes. A chain-id style domain tag is
// intentionally omitted here since the wire protocol version/magic header
// (outside this package's scope) already domain-separates messages.
func (v *Vote) SignBytes() []byte {
	buf := make([]byte, 8, 8+len(v.Hashes)*HashSize)
	binary.BigEndian.PutUint64(buf, v.Sequence)
	for _, h := range v.Hashes {
		buf = append(buf, h.Data[:]...)
	}
	return buf
}

// Verify checks the vote's Ed25519 signature against its claimed Account.
func (v *Vote) Verify() error {
	if len(v.Hashes) == 0 {
		return ErrInvalidVote
	}
	if !VerifySignature(v.Account, v.SignBytes(), v.Signature) {
		return ErrInvalidVote
	}
	return nil
}

// SignVote populates v.Signature using priv, which must correspond to
// v.Account.
func SignVote(v *Vote, priv ed25519.PrivateKey) {
	v.Signature = Sign(priv, v.SignBytes())
}

// HasHash reports whether the vote lists h among its hashes.
func (v *Vote) HasHash(h Hash) bool {
	for _, vh := range v.Hashes {
		if HashEqual(vh, h) {
			return true
		}
	}
	return false
}
