package types

import (
	"crypto/ed25519"
	"testing"
)

func TestStateBlockRootOpenVsContinuation(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	account := Account{Data: [32]byte(priv.Public().(ed25519.PublicKey))}

	open := &StateBlock{
		AccountField:   account,
		PreviousHash:   Hash{},
		Representative: account,
		Balance:        NewAmountFromUint64(10),
		Link:           HashBytes([]byte("source")),
	}
	if !HashEqual(open.Root(), Hash{Data: account.Data}) {
		t.Error("open state block root should be the account")
	}
	if !IsOpen(open) {
		t.Error("block with zero previous should be reported as open")
	}

	cont := &StateBlock{
		AccountField:   account,
		PreviousHash:   open.Hash(),
		Representative: account,
		Balance:        NewAmountFromUint64(5),
		Link:           Hash{},
	}
	if !HashEqual(cont.Root(), open.Hash()) {
		t.Error("continuation state block root should be its previous hash")
	}
	if IsOpen(cont) {
		t.Error("block with nonzero previous should not be reported as open")
	}
}

func TestBlockVariantsHashDistinctly(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	account := Account{Data: [32]byte(priv.Public().(ed25519.PublicKey))}
	prev := HashBytes([]byte("prev"))

	send := &SendBlock{AccountField: account, PreviousHash: prev, Destination: account, Balance: NewAmountFromUint64(1)}
	recv := &ReceiveBlock{AccountField: account, PreviousHash: prev, Source: prev}
	change := &ChangeBlock{AccountField: account, PreviousHash: prev, Representative: account}

	hashes := []Hash{send.Hash(), recv.Hash(), change.Hash()}
	for i := range hashes {
		for j := range hashes {
			if i == j {
				continue
			}
			if HashEqual(hashes[i], hashes[j]) {
				t.Errorf("block variants %d and %d should not share a hash", i, j)
			}
		}
	}
}

func TestOnlyStateBlockIsStapleable(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	account := Account{Data: [32]byte(priv.Public().(ed25519.PublicKey))}
	prev := HashBytes([]byte("prev"))

	blocks := []Block{
		&SendBlock{AccountField: account, PreviousHash: prev},
		&ReceiveBlock{AccountField: account, PreviousHash: prev},
		&OpenBlock{AccountField: account},
		&ChangeBlock{AccountField: account, PreviousHash: prev},
		&StateBlock{AccountField: account, PreviousHash: prev},
	}
	for _, b := range blocks {
		want := b.Type() == BlockTypeState
		if b.Stapleable() != want {
			t.Errorf("%s.Stapleable() = %v, want %v", b.Type(), b.Stapleable(), want)
		}
	}
}

func TestBlockSignatureRoundTrip(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	account := Account{Data: [32]byte(priv.Public().(ed25519.PublicKey))}
	b := &StateBlock{AccountField: account, PreviousHash: Hash{}, Balance: NewAmountFromUint64(1)}

	h := b.Hash()
	sig := Sign(priv, h.Data[:])
	b.SetSignature(sig)
	h2 := b.Hash()
	if !VerifySignature(account, h2.Data[:], b.Signature()) {
		t.Error("expected signature to verify against block hash")
	}
}
