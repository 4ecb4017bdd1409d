package types

import (
	"crypto/ed25519"
	"testing"
)

func TestAccountEqual(t *testing.T) {
	_, priv1, _ := ed25519.GenerateKey(nil)
	_, priv2, _ := ed25519.GenerateKey(nil)
	a := Account{Data: [32]byte(priv1.Public().(ed25519.PublicKey))}
	b := Account{Data: [32]byte(priv1.Public().(ed25519.PublicKey))}
	c := Account{Data: [32]byte(priv2.Public().(ed25519.PublicKey))}

	if !AccountEqual(a, b) {
		t.Error("same key should be equal")
	}
	if AccountEqual(a, c) {
		t.Error("different keys should not be equal")
	}
}

func TestVerifySignature(t *testing.T) {
	message := []byte("test message")

	var zeroPubKey PublicKey
	var zeroSig Signature
	if VerifySignature(zeroPubKey, message, zeroSig) {
		t.Error("zero key/signature should fail verification")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	account := Account{Data: [32]byte(pub)}
	sig := Sign(priv, message)
	if !VerifySignature(account, message, sig) {
		t.Error("valid signature should verify")
	}
	if VerifySignature(account, []byte("tampered"), sig) {
		t.Error("signature over different message should not verify")
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := NewAmountFromUint64(100)
	b := NewAmountFromUint64(40)

	if got := a.Add(b); got.Cmp(NewAmountFromUint64(140)) != 0 {
		t.Errorf("Add: expected 140, got %s", got.String())
	}
	if got := a.Sub(b); got.Cmp(NewAmountFromUint64(60)) != 0 {
		t.Errorf("Sub: expected 60, got %s", got.String())
	}
	if got := b.Sub(a); !got.IsZero() {
		t.Errorf("Sub underflow should clamp to zero, got %s", got.String())
	}
	if !ZeroAmount().IsZero() {
		t.Error("ZeroAmount should be zero")
	}
}

func TestAmountBytesRoundTrip(t *testing.T) {
	a := NewAmountFromUint64(123456789)
	b := AmountFromBytes(a.Bytes())
	if a.Cmp(b) != 0 {
		t.Errorf("round trip mismatch: %s != %s", a.String(), b.String())
	}
	if len(a.Bytes()) != AmountSize {
		t.Errorf("expected %d byte amount, got %d", AmountSize, len(a.Bytes()))
	}
}

func TestAmountMulFraction(t *testing.T) {
	a := NewAmountFromUint64(1000)
	got := a.MulFraction(2, 3)
	want := NewAmountFromUint64(666)
	if got.Cmp(want) != 0 {
		t.Errorf("MulFraction(2,3): expected %s, got %s", want.String(), got.String())
	}
}
