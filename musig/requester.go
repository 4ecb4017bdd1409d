package musig

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrNoReachableReps   = errors.New("musig: no reachable representatives to recruit")
	ErrStapleTimeout     = errors.New("musig: staple round timed out before reaching weight cutoff")
	ErrStapleInProgress  = errors.New("musig: a staple round for this root is already running")
	ErrFullBroadcastOnly = errors.New("musig: root blacklisted into full-broadcast fallback")
)

// StapleTransport is the unicast RPC surface a VoteStapleRequester drives
// to recruit stage0/stage1 responses from remote representatives. No
// socket implementation lives in this package; an integration backs this
// with whatever wire codec and UDP/TCP transport the node uses.
type StapleTransport interface {
	Stage0(ctx context.Context, endpoint types.Endpoint, req Stage0Request) (Stage0Response, error)
	Stage1(ctx context.Context, endpoint types.Endpoint, req Stage1Request) (Stage1Response, error)
}

// EndpointLocator resolves which peer endpoint to contact for a given
// representative account. Implemented by engine.PeerDirectory in
// production.
type EndpointLocator interface {
	EndpointsForAccount(account types.Account) []types.Endpoint
}

// RequesterConfig tunes how aggressively a VoteStapleRequester recruits
// representatives before giving up on a staple and falling back to
// full-broadcast vote collection.
type RequesterConfig struct {
	NodeID         types.Account
	WeightCutoff   types.Amount // total recruited weight considered sufficient to proceed to stage1
	RecruitTimeout time.Duration
	Stage0Fanout   int // how many candidate reps to contact per round
	MaxRounds      int // recruiting rounds before giving up
}

// pendingRequest is one caller's outstanding request to staple blockHash,
// queued per-root so at most one staple round runs per account chain at
// a time.
type pendingRequest struct {
	block    types.Block
	callback func(types.Staple, error)
}

type rootState struct {
	queue   []pendingRequest
	running bool
}

// VoteStapleRequester is the client role: for a block awaiting
// confirmation, it recruits enough representative weight, drives the
// stage0/stage1 rounds, and assembles the resulting aggregate signature
// into a Staple. Requests for the same root serialize through
// accountsQueue so a representative is never asked to co-sign two
// staples for the same chain concurrently.
type VoteStapleRequester struct {
	mu sync.Mutex

	transport StapleTransport
	locator   EndpointLocator
	lookup    KeyLookup
	solver    *RepXorSolver

	cfg RequesterConfig

	nextRequestID      uint64
	blacklisted        map[types.Account]bool
	accountsQueue      map[types.Hash]*rootState
	fullBroadcast      map[types.Hash]bool
	forceFullBroadcast bool

	metricsReg *metrics.Registry

	log logrus.FieldLogger
}

// NewVoteStapleRequester constructs a VoteStapleRequester.
func NewVoteStapleRequester(transport StapleTransport, locator EndpointLocator, lookup KeyLookup, solver *RepXorSolver, cfg RequesterConfig, log logrus.FieldLogger) *VoteStapleRequester {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VoteStapleRequester{
		transport:     transport,
		locator:       locator,
		lookup:        lookup,
		solver:        solver,
		cfg:           cfg,
		blacklisted:   make(map[types.Account]bool),
		accountsQueue: make(map[types.Hash]*rootState),
		fullBroadcast: make(map[types.Hash]bool),
		log:           log.WithField("component", "vote_staple_requester"),
	}
}

// SetMetrics attaches a metrics registry completed and failed staple
// rounds are reported against.
func (r *VoteStapleRequester) SetMetrics(reg *metrics.Registry) {
	r.metricsReg = reg
}

// RequestStaple asks the requester to assemble a staple for block,
// invoking callback with the result once the round (or its fallback)
// completes. If root already has a round in progress, block is queued
// and run after the current round finishes.
func (r *VoteStapleRequester) RequestStaple(ctx context.Context, root types.Hash, block types.Block, callback func(types.Staple, error)) {
	r.mu.Lock()
	state, ok := r.accountsQueue[root]
	if !ok {
		state = &rootState{}
		r.accountsQueue[root] = state
	}
	if state.running {
		for _, pending := range state.queue {
			if types.HashEqual(pending.block.Hash(), block.Hash()) {
				r.mu.Unlock()
				callback(types.Staple{}, ErrStapleInProgress)
				return
			}
		}
		state.queue = append(state.queue, pendingRequest{block: block, callback: callback})
		r.mu.Unlock()
		return
	}
	state.running = true
	r.mu.Unlock()

	go r.runRound(ctx, root, block, callback)
}

func (r *VoteStapleRequester) runRound(ctx context.Context, root types.Hash, block types.Block, callback func(types.Staple, error)) {
	staple, err := r.recruitAndStaple(ctx, root, block)
	callback(staple, err)

	r.mu.Lock()
	state := r.accountsQueue[root]
	var next *pendingRequest
	if state != nil {
		if len(state.queue) > 0 {
			nr := state.queue[0]
			state.queue = state.queue[1:]
			next = &nr
		} else {
			state.running = false
		}
	}
	r.mu.Unlock()

	if next != nil {
		r.runRound(ctx, root, next.block, next.callback)
	}
}

// RemoveRoot abandons any queued staple requests for root, e.g. once its
// election resolves through an ordinary vote quorum before stapling
// finishes.
func (r *VoteStapleRequester) RemoveRoot(root types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accountsQueue, root)
}

// recruitAndStaple drives the full two-round protocol for one block.
func (r *VoteStapleRequester) recruitAndStaple(ctx context.Context, root types.Hash, block types.Block) (types.Staple, error) {
	blockHash := block.Hash()

	if r.IsFullBroadcast(blockHash) {
		return types.Staple{}, ErrFullBroadcastOnly
	}

	candidates := r.solver.TopReps(time.Now())
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Weight.Cmp(candidates[j].Weight) > 0 })

	recruited, responses, err := r.recruitStage0(ctx, root, blockHash, candidates)
	if err != nil {
		r.markFullBroadcast(blockHash)
		r.metricsReg.StapleFailed(staplingFailureReason(err))
		return types.Staple{}, err
	}

	accounts := make([]types.Account, len(recruited))
	points := make([]kyber.Point, len(recruited))
	commits := make([]kyber.Point, len(recruited))
	for i, acc := range recruited {
		resp := responses[acc]
		accounts[i] = acc
		p, err := BytesToPoint(resp.Point)
		if err != nil {
			return types.Staple{}, err
		}
		c, err := BytesToPoint(resp.Commit)
		if err != nil {
			return types.Staple{}, err
		}
		points[i] = p
		commits[i] = c
	}

	lBase, err := ComputeLBase(accounts, r.lookup)
	if err != nil {
		return types.Staple{}, err
	}
	aggPubkey, err := AggregatePubkey(lBase, points)
	if err != nil {
		return types.Staple{}, err
	}
	rTotal, err := AggregateCommitment(commits)
	if err != nil {
		return types.Staple{}, err
	}
	rTotalBytes, err := PointToBytes(rTotal)
	if err != nil {
		return types.Staple{}, err
	}

	e, err := Challenge(lBase, aggPubkey, rTotal, blockHash)
	if err != nil {
		return types.Staple{}, err
	}

	partials, err := r.collectStage1(ctx, blockHash, accounts, points, commits, lBase, e, rTotalBytes)
	if err != nil {
		r.markFullBroadcast(blockHash)
		r.metricsReg.StapleFailed(staplingFailureReason(err))
		return types.Staple{}, err
	}

	sTotal := SumScalars(partials)
	sTotalBytes := ScalarToBytes(sTotal)

	var repsXor types.PublicKey
	for _, acc := range accounts {
		repsXor = types.XOR(repsXor, acc)
	}

	r.metricsReg.StapleCompleted()
	return types.NewStaple(blockHash, repsXor, rTotalBytes, sTotalBytes), nil
}

// staplingFailureReason maps a recruiting error to a metrics label.
func staplingFailureReason(err error) string {
	switch err {
	case ErrNoReachableReps:
		return "no_reachable_reps"
	case ErrStapleTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// recruitStage0 fans stage0 requests out to candidate representatives
// Stage0Fanout at a time until the recruited weight reaches WeightCutoff
// or the candidate list or round budget is exhausted.
func (r *VoteStapleRequester) recruitStage0(ctx context.Context, root, blockHash types.Hash, candidates []RepWeight) ([]types.Account, map[types.Account]Stage0Response, error) {
	recruited := make([]types.Account, 0)
	responses := make(map[types.Account]Stage0Response)
	recruitedWeight := types.ZeroAmount()

	idx := 0
	requestID := r.nextID()
	session := SessionID{OpposingNodeID: r.cfg.NodeID, RequestID: requestID}

	for round := 0; round < r.cfg.MaxRounds && idx < len(candidates); round++ {
		batch := 0
		for ; idx < len(candidates) && batch < r.cfg.Stage0Fanout; idx++ {
			cand := candidates[idx]
			if r.isBlacklisted(cand.Account) {
				continue
			}
			endpoints := r.locator.EndpointsForAccount(cand.Account)
			if len(endpoints) == 0 {
				continue
			}
			batch++

			reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RecruitTimeout)
			resp, err := r.transport.Stage0(reqCtx, endpoints[0], Stage0Request{
				Session:   session,
				Root:      root,
				BlockHash: blockHash,
				Account:   cand.Account,
			})
			cancel()
			if err != nil {
				r.log.WithField("account", cand.Account.Bytes()).WithError(err).Debug("stage0 request failed")
				continue
			}

			recruited = append(recruited, cand.Account)
			responses[cand.Account] = resp
			recruitedWeight = recruitedWeight.Add(cand.Weight)
		}

		if recruitedWeight.Cmp(r.cfg.WeightCutoff) >= 0 {
			return recruited, responses, nil
		}
	}

	if len(recruited) == 0 {
		return nil, nil, ErrNoReachableReps
	}
	if recruitedWeight.Cmp(r.cfg.WeightCutoff) < 0 {
		return nil, nil, ErrStapleTimeout
	}
	return recruited, responses, nil
}

// collectStage1 fans stage1 requests out to every recruited
// representative, verifying each partial signature against its own
// commitment and coefficient before summing it in. A representative
// whose partial fails verification is blacklisted and excluded from the
// running total.
func (r *VoteStapleRequester) collectStage1(ctx context.Context, blockHash types.Hash, accounts []types.Account, points, commits []kyber.Point, lBase []byte, e kyber.Scalar, rTotalBytes [32]byte) ([]kyber.Scalar, error) {
	session := SessionID{OpposingNodeID: r.cfg.NodeID, RequestID: r.nextID()}

	partials := make([]kyber.Scalar, 0, len(accounts))
	for i, acc := range accounts {
		endpoints := r.locator.EndpointsForAccount(acc)
		if len(endpoints) == 0 {
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RecruitTimeout)
		resp, err := r.transport.Stage1(reqCtx, endpoints[0], Stage1Request{
			Session:   session,
			Account:   acc,
			Accounts:  accounts,
			RTotal:    rTotalBytes,
			BlockHash: blockHash,
		})
		cancel()
		if err != nil {
			r.log.WithField("account", acc.Bytes()).WithError(err).Debug("stage1 request failed")
			continue
		}

		partial := BytesToScalar(resp.Partial)
		a, err := Coefficient(lBase, points[i])
		if err != nil {
			continue
		}
		perSigner := Suite.Scalar().Mul(e, a)
		if !VerifyPartial(partial, commits[i], points[i], perSigner) {
			r.blacklist(acc)
			r.log.WithField("account", acc.Bytes()).Warn("blacklisting representative: invalid partial signature")
			continue
		}

		partials = append(partials, partial)
	}

	if len(partials) == 0 {
		return nil, ErrNoReachableReps
	}
	return partials, nil
}

func (r *VoteStapleRequester) nextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRequestID++
	return r.nextRequestID
}

func (r *VoteStapleRequester) blacklist(account types.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklisted[account] = true
}

func (r *VoteStapleRequester) isBlacklisted(account types.Account) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blacklisted[account]
}

func (r *VoteStapleRequester) markFullBroadcast(blockHash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullBroadcast[blockHash] = true
}

// IsFullBroadcast reports whether blockHash has fallen back to ordinary
// vote broadcast after a failed stapling attempt, or stapling has been
// force-disabled network-wide.
func (r *VoteStapleRequester) IsFullBroadcast(blockHash types.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forceFullBroadcast {
		return true
	}
	return r.fullBroadcast[blockHash]
}

// SetForceFullBroadcast disables stapling network-wide, e.g. when an
// operator observes the protocol degrading service under churn.
func (r *VoteStapleRequester) SetForceFullBroadcast(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forceFullBroadcast = force
}

// ClearFullBroadcast removes blockHash's fallback marker, e.g. once a
// peer set refresh makes stapling worth retrying.
func (r *VoteStapleRequester) ClearFullBroadcast(blockHash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fullBroadcast, blockHash)
}
