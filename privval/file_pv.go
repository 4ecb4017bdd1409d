package privval

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/util/random"

	"github.com/xinGGG/raiblocks/types"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
)

// schnorrSuite is the group every FilePV's Schnorr key and every staple
// session's nonce is drawn from. Shared process-wide since it carries no
// mutable state.
var schnorrSuite = edwards25519.NewBlakeSHA256Ed25519()

// FilePV is a file-based representative key manager: it holds the
// Ed25519 key a representative signs plain votes with, and derives from
// the same seed a Schnorr scalar on the edwards25519 group used for
// vote-stapling (musig) sessions. Adapted from the teacher's file-based
// validator key, generalized from height/round/step double-sign
// prevention to this domain's per-account monotonic vote sequence.
type FilePV struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string

	account types.Account
	privKey ed25519.PrivateKey

	schnorrPriv kyber.Scalar
	schnorrPub  kyber.Point

	lastSignState LastSignState

	sessions map[types.Hash]kyber.Scalar
}

// FilePVKey is the on-disk key file structure.
type FilePVKey struct {
	PubKey  []byte `json:"pub_key"`
	PrivKey []byte `json:"priv_key"`
}

// FilePVState is the on-disk last-sign-state structure.
type FilePVState struct {
	Sequence     uint64 `json:"sequence"`
	HashesDigest []byte `json:"hashes_digest,omitempty"`
	Signature    []byte `json:"signature,omitempty"`
}

// NewFilePV loads a representative key manager from keyFilePath and
// stateFilePath, generating a new key if keyFilePath does not exist.
func NewFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		sessions:      make(map[types.Hash]kyber.Scalar),
	}

	if err := pv.loadKey(); err != nil {
		return nil, err
	}
	if err := pv.loadState(); err != nil {
		return nil, err
	}
	pv.deriveSchnorrKey()

	return pv, nil
}

// GenerateFilePV creates a brand new representative key manager and
// persists its key and initial (empty) state.
func GenerateFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("privval: failed to generate key: %w", err)
	}

	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
		account:       types.MustNewPublicKey(pub),
		privKey:       priv,
		sessions:      make(map[types.Hash]kyber.Scalar),
	}
	pv.deriveSchnorrKey()

	if err := pv.saveKey(); err != nil {
		return nil, err
	}
	if err := pv.saveState(); err != nil {
		return nil, err
	}

	return pv, nil
}

// deriveSchnorrKey derives the representative's Schnorr scalar
// deterministically from the Ed25519 seed, so a single key file is the
// sole piece of durable secret material. Entropy is drawn only from the
// seed, not the OS RNG, via kyber's random.New reader-backed stream.
func (pv *FilePV) deriveSchnorrKey() {
	seed := pv.privKey.Seed()
	stream := random.New(bytes.NewReader(seed))
	pv.schnorrPriv = schnorrSuite.Scalar().Pick(stream)
	pv.schnorrPub = schnorrSuite.Point().Mul(pv.schnorrPriv, nil)
}

func (pv *FilePV) loadKey() error {
	data, err := os.ReadFile(pv.keyFilePath)
	if os.IsNotExist(err) {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return fmt.Errorf("privval: failed to generate key: %w", err)
		}
		pv.account = types.MustNewPublicKey(pub)
		pv.privKey = priv
		return pv.saveKey()
	}
	if err != nil {
		return fmt.Errorf("privval: failed to read key file: %w", err)
	}

	var key FilePVKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("privval: failed to parse key file: %w", err)
	}
	if len(key.PubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("privval: invalid public key size")
	}
	if len(key.PrivKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("privval: invalid private key size")
	}

	pv.account = types.MustNewPublicKey(key.PubKey)
	pv.privKey = key.PrivKey
	return nil
}

func (pv *FilePV) saveKey() error {
	dir := filepath.Dir(pv.keyFilePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("privval: failed to create key directory: %w", err)
	}

	key := FilePVKey{
		PubKey:  pv.account.Bytes(),
		PrivKey: pv.privKey,
	}
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("privval: failed to marshal key: %w", err)
	}
	if err := os.WriteFile(pv.keyFilePath, data, keyFilePerm); err != nil {
		return fmt.Errorf("privval: failed to write key file: %w", err)
	}
	return nil
}

func (pv *FilePV) loadState() error {
	data, err := os.ReadFile(pv.stateFilePath)
	if os.IsNotExist(err) {
		pv.lastSignState = LastSignState{}
		return pv.saveState()
	}
	if err != nil {
		return fmt.Errorf("privval: failed to read state file: %w", err)
	}

	var state FilePVState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("privval: failed to parse state file: %w", err)
	}

	pv.lastSignState = LastSignState{
		HasSigned: len(state.HashesDigest) > 0 || len(state.Signature) > 0 || state.Sequence > 0,
		Sequence:  state.Sequence,
	}
	if len(state.HashesDigest) > 0 {
		pv.lastSignState.HashesDigest = types.MustNewHash(state.HashesDigest)
	}
	if len(state.Signature) > 0 {
		pv.lastSignState.Signature = types.MustNewSignature(state.Signature)
	}
	return nil
}

func (pv *FilePV) saveState() error {
	dir := filepath.Dir(pv.stateFilePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("privval: failed to create state directory: %w", err)
	}

	state := FilePVState{Sequence: pv.lastSignState.Sequence}
	if !types.IsHashEmpty(&pv.lastSignState.HashesDigest) {
		state.HashesDigest = pv.lastSignState.HashesDigest.Bytes()
	}
	if !types.SignatureEmpty(pv.lastSignState.Signature) {
		state.Signature = pv.lastSignState.Signature.Bytes()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("privval: failed to marshal state: %w", err)
	}
	if err := os.WriteFile(pv.stateFilePath, data, stateFilePerm); err != nil {
		return fmt.Errorf("privval: failed to write state file: %w", err)
	}
	return nil
}

// GetAccount returns the representative's account.
func (pv *FilePV) GetAccount() types.Account {
	return pv.account
}

// SignVote fills in vote.Signature after checking for equivocation.
func (pv *FilePV) SignVote(vote *types.Vote) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	if !types.AccountEqual(vote.Account, pv.account) {
		return ErrSignerNotFound
	}

	digest := hashesDigest(vote.Hashes)
	if err := pv.lastSignState.CheckSequence(vote.Sequence, digest); err != nil {
		return err
	}

	// Ed25519 signing is deterministic, so re-signing the same
	// sequence/hash set (idempotent retransmit) reproduces the
	// signature already recorded in lastSignState rather than
	// requiring a cached-signature fast path.
	types.SignVote(vote, pv.privKey)

	pv.lastSignState = LastSignState{
		HasSigned:    true,
		Sequence:     vote.Sequence,
		HashesDigest: digest,
		Signature:    vote.Signature,
	}
	return pv.saveState()
}

// hashesDigest collapses a vote's hash list into one comparable value for
// equivocation detection, without re-deriving the vote's full sign-bytes.
func hashesDigest(hashes []types.Hash) types.Hash {
	parts := make([][]byte, len(hashes))
	for i, h := range hashes {
		parts[i] = h.Bytes()
	}
	return types.HashBytes(parts...)
}

// Account implements musig.Signer (StapleSigner) — same identity as
// GetAccount, named to match the interface.
func (pv *FilePV) Account() types.Account {
	return pv.account
}

// SchnorrPoint returns the representative's long-term Schnorr public
// point.
func (pv *FilePV) SchnorrPoint() kyber.Point {
	return pv.schnorrPub
}

// CommitNonce starts a new staple session, returning its nonce
// commitment. The nonce itself never leaves this struct.
func (pv *FilePV) CommitNonce(session types.Hash) (kyber.Point, error) {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	nonce := schnorrSuite.Scalar().Pick(schnorrSuite.RandomStream())
	pv.sessions[session] = nonce
	return schnorrSuite.Point().Mul(nonce, nil), nil
}

// PartialSign completes session with the aggregated challenge,
// consuming the session's nonce so it can never be reused.
func (pv *FilePV) PartialSign(session types.Hash, challenge kyber.Scalar) (kyber.Scalar, error) {
	pv.mu.Lock()
	defer pv.mu.Unlock()

	nonce, ok := pv.sessions[session]
	if !ok {
		return nil, ErrUnknownSession
	}
	delete(pv.sessions, session)

	s := schnorrSuite.Scalar().Mul(challenge, pv.schnorrPriv)
	s.Add(nonce, s)
	return s, nil
}

// DiscardSession releases session's nonce without signing.
func (pv *FilePV) DiscardSession(session types.Hash) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	delete(pv.sessions, session)
}

// Reset clears the last-sign-state. Use only when a representative's
// account is being reassigned to a new physical signer.
func (pv *FilePV) Reset() error {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.lastSignState = LastSignState{}
	return pv.saveState()
}

var (
	_ PrivValidator = (*FilePV)(nil)
	_ StapleSigner  = (*FilePV)(nil)
)
