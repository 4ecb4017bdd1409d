package types

import (
	"crypto/ed25519"
	"testing"
)

func TestVoteSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	v := &Vote{
		Account:  Account{Data: [32]byte(pub)},
		Sequence: 1,
		Hashes:   []Hash{HashBytes([]byte("block"))},
	}
	SignVote(v, priv)
	if err := v.Verify(); err != nil {
		t.Errorf("expected valid vote to verify, got %v", err)
	}
}

func TestVoteVerifyRejectsEmptyHashes(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	v := &Vote{Account: Account{Data: [32]byte(pub)}, Sequence: 1}
	SignVote(v, priv)
	if err := v.Verify(); err != ErrInvalidVote {
		t.Errorf("expected ErrInvalidVote for empty hashes, got %v", err)
	}
}

func TestVoteVerifyRejectsTamperedSequence(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	v := &Vote{
		Account:  Account{Data: [32]byte(pub)},
		Sequence: 1,
		Hashes:   []Hash{HashBytes([]byte("block"))},
	}
	SignVote(v, priv)
	v.Sequence = 2
	if err := v.Verify(); err != ErrInvalidVote {
		t.Errorf("expected ErrInvalidVote after tampering with sequence, got %v", err)
	}
}

func TestVoteHasHash(t *testing.T) {
	h1 := HashBytes([]byte("a"))
	h2 := HashBytes([]byte("b"))
	v := &Vote{Hashes: []Hash{h1}}
	if !v.HasHash(h1) {
		t.Error("expected HasHash to find h1")
	}
	if v.HasHash(h2) {
		t.Error("expected HasHash to not find h2")
	}
}
