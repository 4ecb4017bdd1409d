package musig

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/privval"
	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrUnknownSigner  = errors.New("musig: no local signer for this account")
	ErrRootBusy       = errors.New("musig: root already has a staple session in progress")
	ErrUnknownSession = errors.New("musig: unknown staple session")
	ErrSessionExpired = errors.New("musig: staple session expired")
	ErrWrongAccount   = errors.New("musig: account does not match the session's stage0 participant")
)

// SessionID identifies one staple round from the server side: which
// opposing node is assembling the staple, and that node's own
// monotonically increasing request counter, so one opposing node can
// run several concurrent staple requests without colliding.
type SessionID struct {
	OpposingNodeID types.Account
	RequestID      uint64
}

// Stage0Request asks one locally-hosted representative to commit to a
// fresh nonce for blockHash under root.
type Stage0Request struct {
	Session   SessionID
	Root      types.Hash
	BlockHash types.Hash
	Account   types.Account
}

// Stage0Response carries the representative's long-term Schnorr point
// and its fresh nonce commitment R.
type Stage0Response struct {
	Account types.Account
	Point   [32]byte
	Commit  [32]byte
}

// Stage1Request supplies the full recruited participant set so the
// responder can recompute L_base, its own coefficient a_i, and the
// aggregate challenge e, then asks its signer to produce s_i.
type Stage1Request struct {
	Session   SessionID
	Account   types.Account
	Accounts  []types.Account
	RTotal    [32]byte
	BlockHash types.Hash
}

// Stage1Response carries one representative's partial signature.
type Stage1Response struct {
	Account types.Account
	Partial [32]byte
}

type stapleServerSession struct {
	root      types.Hash
	account   types.Account
	blockHash types.Hash
	createdAt time.Time
}

// VoteStapler is the server role: it answers stage0/stage1 requests
// from whichever peer is recruiting signatures for a block, on behalf
// of whichever representatives this node hosts keys for. Sessions are
// bounded by the capacity (oldest evicted first) and timeout passed to
// NewVoteStapler, and at most one session may be open per
// root at a time so a representative never signs two conflicting
// stapling rounds for the same account chain concurrently.
type VoteStapler struct {
	mu sync.Mutex

	signers map[types.Account]privval.StapleSigner
	lookup  KeyLookup

	sessions    map[SessionID]*stapleServerSession
	sessionList []SessionID // insertion order, oldest first
	rootBusy    map[types.Hash]SessionID

	cfg *stapleServerConfig
	log logrus.FieldLogger
}

type stapleServerConfig struct {
	Capacity int
	Timeout  time.Duration
}

// NewVoteStapler constructs a VoteStapler over the given locally-hosted
// signers.
func NewVoteStapler(signers []privval.StapleSigner, lookup KeyLookup, capacity int, timeout time.Duration, log logrus.FieldLogger) *VoteStapler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byAccount := make(map[types.Account]privval.StapleSigner, len(signers))
	for _, s := range signers {
		byAccount[s.Account()] = s
	}
	return &VoteStapler{
		signers:  byAccount,
		lookup:   lookup,
		sessions: make(map[SessionID]*stapleServerSession),
		rootBusy: make(map[types.Hash]SessionID),
		cfg:      &stapleServerConfig{Capacity: capacity, Timeout: timeout},
		log:      log.WithField("component", "vote_stapler"),
	}
}

// Stage0 commits a fresh nonce for req.Account over req.BlockHash,
// opening a new session keyed by req.Session. Returns ErrRootBusy if
// req.Root already has a different session in progress.
func (s *VoteStapler) Stage0(req Stage0Request, now time.Time) (Stage0Response, error) {
	signer, ok := s.signers[req.Account]
	if !ok {
		return Stage0Response{}, ErrUnknownSigner
	}

	s.mu.Lock()
	if existing, busy := s.rootBusy[req.Root]; busy && existing != req.Session {
		s.mu.Unlock()
		return Stage0Response{}, ErrRootBusy
	}
	s.mu.Unlock()

	commit, err := signer.CommitNonce(req.Session.sessionHash(req.BlockHash))
	if err != nil {
		return Stage0Response{}, err
	}

	pointBytes, err := PointToBytes(signer.SchnorrPoint())
	if err != nil {
		return Stage0Response{}, err
	}
	commitBytes, err := PointToBytes(commit)
	if err != nil {
		return Stage0Response{}, err
	}

	s.mu.Lock()
	s.evictExpiredLocked(now)
	s.evictOldestIfFullLocked()
	s.sessions[req.Session] = &stapleServerSession{root: req.Root, account: req.Account, blockHash: req.BlockHash, createdAt: now}
	s.sessionList = append(s.sessionList, req.Session)
	s.rootBusy[req.Root] = req.Session
	s.mu.Unlock()

	return Stage0Response{Account: req.Account, Point: pointBytes, Commit: commitBytes}, nil
}

// Stage1 recomputes the aggregate challenge from req's participant set
// and asks the session's signer for its partial signature.
func (s *VoteStapler) Stage1(req Stage1Request) (Stage1Response, error) {
	s.mu.Lock()
	sess, ok := s.sessions[req.Session]
	s.mu.Unlock()
	if !ok {
		return Stage1Response{}, ErrUnknownSession
	}
	if !types.AccountEqual(sess.account, req.Account) {
		return Stage1Response{}, ErrWrongAccount
	}

	signer, ok := s.signers[req.Account]
	if !ok {
		return Stage1Response{}, ErrUnknownSigner
	}

	lBase, err := ComputeLBase(req.Accounts, s.lookup)
	if err != nil {
		return Stage1Response{}, err
	}

	points := make([]kyber.Point, 0, len(req.Accounts))
	for _, acc := range req.Accounts {
		p, ok := s.lookup.SchnorrPoint(acc)
		if !ok {
			return Stage1Response{}, ErrUnknownAccount
		}
		points = append(points, p)
	}
	aggPubkey, err := AggregatePubkey(lBase, points)
	if err != nil {
		return Stage1Response{}, err
	}

	rTotal, err := BytesToPoint(req.RTotal)
	if err != nil {
		return Stage1Response{}, err
	}

	e, err := Challenge(lBase, aggPubkey, rTotal, req.BlockHash)
	if err != nil {
		return Stage1Response{}, err
	}

	myPoint, ok := s.lookup.SchnorrPoint(req.Account)
	if !ok {
		return Stage1Response{}, ErrUnknownAccount
	}
	a, err := Coefficient(lBase, myPoint)
	if err != nil {
		return Stage1Response{}, err
	}
	perSigner := Suite.Scalar().Mul(e, a)

	partial, err := signer.PartialSign(req.Session.sessionHash(req.BlockHash), perSigner)
	if err != nil {
		return Stage1Response{}, err
	}

	s.mu.Lock()
	delete(s.sessions, req.Session)
	if s.rootBusy[sess.root] == req.Session {
		delete(s.rootBusy, sess.root)
	}
	s.mu.Unlock()

	return Stage1Response{Account: req.Account, Partial: ScalarToBytes(partial)}, nil
}

// RemoveRoot discards any in-progress session for root, discarding its
// signer's nonce, used when an election resolves or aborts before
// stage1 completes.
func (s *VoteStapler) RemoveRoot(root types.Hash) {
	s.mu.Lock()
	session, ok := s.rootBusy[root]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess := s.sessions[session]
	delete(s.sessions, session)
	delete(s.rootBusy, root)
	s.mu.Unlock()

	if sess == nil {
		return
	}
	if signer, ok := s.signers[sess.account]; ok {
		signer.DiscardSession(session.sessionHash(sess.blockHash))
	}
}

// PurgeExpired discards sessions older than the configured timeout.
func (s *VoteStapler) PurgeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
}

func (s *VoteStapler) evictExpiredLocked(now time.Time) {
	var remaining []SessionID
	for _, id := range s.sessionList {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		if now.Sub(sess.createdAt) > s.cfg.Timeout {
			delete(s.sessions, id)
			if s.rootBusy[sess.root] == id {
				delete(s.rootBusy, sess.root)
			}
			continue
		}
		remaining = append(remaining, id)
	}
	s.sessionList = remaining
}

func (s *VoteStapler) evictOldestIfFullLocked() {
	for len(s.sessions) >= s.cfg.Capacity && len(s.sessionList) > 0 {
		oldest := s.sessionList[0]
		s.sessionList = s.sessionList[1:]
		if sess, ok := s.sessions[oldest]; ok {
			delete(s.sessions, oldest)
			if s.rootBusy[sess.root] == oldest {
				delete(s.rootBusy, sess.root)
			}
		}
	}
}

// sessionHash derives the per-session nonce identifier a local signer
// keys its commitment by: the session's block hash combined with the
// requesting node's identity and request counter, so two opposing
// nodes recruiting the same representative for the same block hash
// never collide on one nonce.
func (id SessionID) sessionHash(blockHash types.Hash) types.Hash {
	var reqID [8]byte
	for i := 0; i < 8; i++ {
		reqID[i] = byte(id.RequestID >> (8 * uint(i)))
	}
	return types.HashBytes(blockHash.Bytes(), id.OpposingNodeID.Bytes(), reqID[:])
}
