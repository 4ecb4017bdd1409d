package types

import "crypto/ed25519"

// VerifySignature verifies an Ed25519 signature over message under pubKey.
// Used for plain (non-stapled) vote and block signatures.
func VerifySignature(pubKey PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pubKey.Data[:], message, sig.Data[:])
}

// Sign produces an Ed25519 signature over message under priv.
func Sign(priv ed25519.PrivateKey, message []byte) Signature {
	return MustNewSignature(ed25519.Sign(priv, message))
}
