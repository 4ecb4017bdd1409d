package types

// Staple is an aggregate Schnorr signature over a state block, standing in
// for the individual votes of every representative whose public key XORs
// to RepsXor. It is the wire-compact alternative to broadcasting thousands
// of individual confirm_acks.
type Staple struct {
	BlockHash Hash
	RepsXor   PublicKey
	Signature Signature // 64 bytes: R (32) || s (32), same layout as Ed25519
}

// NewStaple assembles a Staple from its aggregated commitment and scalar.
func NewStaple(blockHash Hash, repsXor PublicKey, rTotal [32]byte, sTotal [32]byte) Staple {
	var sig Signature
	copy(sig.Data[:32], rTotal[:])
	copy(sig.Data[32:], sTotal[:])
	return Staple{
		BlockHash: blockHash,
		RepsXor:   repsXor,
		Signature: sig,
	}
}

// RTotal returns the aggregated nonce commitment half of the signature.
func (s Staple) RTotal() [32]byte {
	var r [32]byte
	copy(r[:], s.Signature.Data[:32])
	return r
}

// STotal returns the aggregated scalar half of the signature.
func (s Staple) STotal() [32]byte {
	var out [32]byte
	copy(out[:], s.Signature.Data[32:64])
	return out
}
