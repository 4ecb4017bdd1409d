package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the expected size of a hash in bytes
const HashSize = 32

// SignatureSize is the expected size of a Schnorr/Ed25519 signature in bytes
const SignatureSize = 64

// PublicKeySize is the expected size of a public key in bytes
const PublicKeySize = 32

// Hash is a 256-bit Blake2b digest, used for block hashes and vote hashes
// (a Staple's reps_xor fingerprint is a PublicKey). Backed by a fixed-size
// array rather than a slice so it is comparable and usable directly as a
// map key, the way Election, ActiveTransactions, and GapCache index by it.
type Hash struct {
	Data [HashSize]byte
}

// Signature is a 512-bit Ed25519 or aggregated-Schnorr signature.
type Signature struct {
	Data [SignatureSize]byte
}

// PublicKey is a 256-bit Ed25519 public key, doubling as an Account
// identifier (Nano accounts ARE their public key).
type PublicKey struct {
	Data [PublicKeySize]byte
}

// NewHash creates a Hash from bytes, returning error if invalid.
// Use for untrusted input (network, files).
func NewHash(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	var h Hash
	copy(h.Data[:], data)
	return h, nil
}

// MustNewHash creates a Hash, panicking if invalid.
// Use only for trusted internal data.
func MustNewHash(data []byte) Hash {
	h, err := NewHash(data)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes computes the Blake2b-256 digest of the concatenation of parts.
// Nano hashes blocks and votes with Blake2b, never SHA-256; multiple parts
// let callers hash a block's fields without first concatenating them.
func HashBytes(parts ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Sprintf("raiblocks: blake2b init failed: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out.Data[:], h.Sum(nil))
	return out
}

// HashEmpty returns an empty (zero) hash
func HashEmpty() Hash {
	return Hash{}
}

// IsHashEmpty returns true if hash is nil or all zeros
func IsHashEmpty(h *Hash) bool {
	if h == nil {
		return true
	}
	return *h == Hash{}
}

// HashEqual compares two hashes
func HashEqual(a, b Hash) bool {
	return a.Data == b.Data
}

// HashLess gives hashes a total order, used to walk elections in root-hash
// order during ActiveTransactions.announce_loop.
func HashLess(a, b Hash) bool {
	return bytes.Compare(a.Data[:], b.Data[:]) < 0
}

// HashString returns hex-encoded hash
func HashString(h Hash) string {
	return hex.EncodeToString(h.Data[:])
}

// Bytes returns the hash as a freshly-allocated byte slice.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h.Data[:])
	return out
}

// NewSignature creates a Signature from bytes, returning error if invalid.
func NewSignature(data []byte) (Signature, error) {
	if len(data) != SignatureSize {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	var s Signature
	copy(s.Data[:], data)
	return s, nil
}

// MustNewSignature creates a Signature, panicking if invalid.
func MustNewSignature(data []byte) Signature {
	s, err := NewSignature(data)
	if err != nil {
		panic(err)
	}
	return s
}

// Bytes returns the signature as a freshly-allocated byte slice.
func (s Signature) Bytes() []byte {
	out := make([]byte, SignatureSize)
	copy(out, s.Data[:])
	return out
}

// SignatureEmpty reports whether s has never been set.
func SignatureEmpty(s Signature) bool {
	return s == Signature{}
}

// NewPublicKey creates a PublicKey from bytes, returning error if invalid.
func NewPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	var p PublicKey
	copy(p.Data[:], data)
	return p, nil
}

// MustNewPublicKey creates a PublicKey, panicking if invalid.
func MustNewPublicKey(data []byte) PublicKey {
	p, err := NewPublicKey(data)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns the public key as a freshly-allocated byte slice.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, p.Data[:])
	return out
}

// PublicKeyEqual compares two public keys
func PublicKeyEqual(a, b PublicKey) bool {
	return a.Data == b.Data
}

// PublicKeyLess gives public keys a total order, used to walk top_reps in a
// deterministic tie-broken order alongside weight.
func PublicKeyLess(a, b PublicKey) bool {
	return bytes.Compare(a.Data[:], b.Data[:]) < 0
}

// XOR returns the byte-wise XOR of a and b.
func XOR(a, b PublicKey) PublicKey {
	var out PublicKey
	for i := 0; i < PublicKeySize; i++ {
		out.Data[i] = a.Data[i] ^ b.Data[i]
	}
	return out
}
