package types

import (
	"math/big"
)

// Account identifies a chain in the block-lattice. It is literally an
// Ed25519 public key: the account "owns" its chain by being able to sign
// blocks that extend it.
type Account = PublicKey

// AccountEqual compares two accounts.
func AccountEqual(a, b Account) bool {
	return PublicKeyEqual(a, b)
}

// AmountSize is the width in bytes of a 128-bit Amount.
const AmountSize = 16

// Amount is an unsigned 128-bit integer denoting balance or stake weight.
// It wraps math/big.Int internally but is always kept within [0, 2^128).
type Amount struct {
	bi big.Int
}

// ZeroAmount returns the zero amount.
func ZeroAmount() Amount {
	return Amount{}
}

// NewAmountFromUint64 constructs an Amount from a uint64.
func NewAmountFromUint64(v uint64) Amount {
	var a Amount
	a.bi.SetUint64(v)
	return a
}

// AmountFromBytes interprets a big-endian byte slice as an Amount.
func AmountFromBytes(b []byte) Amount {
	var a Amount
	a.bi.SetBytes(b)
	return a
}

// Bytes renders the amount as a big-endian, AmountSize-byte slice.
func (a Amount) Bytes() []byte {
	return a.bi.FillBytes(make([]byte, AmountSize))
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	var r Amount
	r.bi.Add(&a.bi, &b.bi)
	return r
}

// Sub returns a-b, clamped to zero. The ledger itself rejects any transfer
// that would drive a balance negative (negative_spend); this clamp only
// protects bookkeeping that subtracts speculative deltas.
func (a Amount) Sub(b Amount) Amount {
	var r Amount
	r.bi.Sub(&a.bi, &b.bi)
	if r.bi.Sign() < 0 {
		r.bi.SetUint64(0)
	}
	return r
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.bi.Cmp(&b.bi)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.bi.Sign() == 0
}

// MulFraction returns floor(a * num / den); used for quorum-percent and
// weight-cutoff fraction computations against online stake.
func (a Amount) MulFraction(num, den int64) Amount {
	var r Amount
	r.bi.Mul(&a.bi, big.NewInt(num))
	r.bi.Div(&r.bi, big.NewInt(den))
	return r
}

// String renders the amount in decimal.
func (a Amount) String() string {
	return a.bi.String()
}
