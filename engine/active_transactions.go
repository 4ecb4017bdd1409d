package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/types"
)

// ConfirmedRecord is one entry in ActiveTransactions' bounded history of
// recently confirmed elections, supplementing the bare confirm callback
// with a queryable recent-confirmations list.
type ConfirmedRecord struct {
	Root      types.Hash
	Winner    types.Block
	Tally     map[types.Hash]types.Amount
	Confirmed time.Time
}

// conflictInfo tracks one active election plus its announcement
// bookkeeping, mirroring the node's confirm_req_options pairing.
type conflictInfo struct {
	root          types.Hash
	election      *Election
	announcements int
}

// ActiveTransactions is the registry of in-flight elections, uniquely
// indexed by root, plus a periodic rebroadcast/confirm-req loop that
// drives every election toward confirmation.
type ActiveTransactions struct {
	mu         sync.Mutex
	byRoot     map[types.Hash]*conflictInfo
	successors map[types.Hash]*Election // block hash -> election owning it, for vote delivery before Publish

	confirmedMu  sync.Mutex
	confirmed    []ConfirmedRecord
	historySize  int

	cfg        *NodeConfig
	onlineReps *OnlineReps
	broadcast  Broadcaster

	metricsReg *metrics.Registry

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	log logrus.FieldLogger
}

// Broadcaster is the gossip/rebroadcast surface consulted by the
// announce loop; out of scope for this package (no networking stack is
// implemented here), but injected so the loop's behavior is testable.
type Broadcaster interface {
	Rebroadcast(block types.Block)
	ConfirmReq(root types.Hash, blocks map[types.Hash]types.Block)
}

// NewActiveTransactions constructs the election registry.
func NewActiveTransactions(cfg *NodeConfig, onlineReps *OnlineReps, broadcast Broadcaster, log logrus.FieldLogger) *ActiveTransactions {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ActiveTransactions{
		byRoot:      make(map[types.Hash]*conflictInfo),
		successors:  make(map[types.Hash]*Election),
		historySize: cfg.ElectionHistorySize,
		cfg:         cfg,
		onlineReps:  onlineReps,
		broadcast:   broadcast,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         log.WithField("component", "active_transactions"),
	}
}

// SetMetrics attaches a metrics registry election lifecycle events are
// reported against. Safe to call before Run starts.
func (a *ActiveTransactions) SetMetrics(reg *metrics.Registry) {
	a.metricsReg = reg
}

// Start constructs and registers a new election over block's root,
// unless one is already active, in which case it returns false and the
// existing election so the caller can Publish the new candidate into it.
func (a *ActiveTransactions) Start(block types.Block, bp *BlockProcessor, rollback RollbackFunc, onConfirm ConfirmObserver) (*Election, bool) {
	root := block.Root()

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byRoot[root]; ok {
		return existing.election, false
	}
	wrappedConfirm := func(r types.Hash, winner types.Block, tally map[types.Hash]types.Amount, at time.Time) {
		a.recordConfirmed(r, winner, tally, at)
		if onConfirm != nil {
			onConfirm(r, winner, tally, at)
		}
	}
	election := NewElection(root, block, a.onlineReps, a.cfg.OnlineWeightQuorum, bp, rollback, wrappedConfirm, a.log)
	a.byRoot[root] = &conflictInfo{root: root, election: election}
	a.successors[block.Hash()] = election
	a.metricsReg.ElectionStarted()
	return election, true
}

// ElectionFor returns the active election for root, if any.
func (a *ActiveTransactions) ElectionFor(root types.Hash) (*Election, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ci, ok := a.byRoot[root]
	if !ok {
		return nil, false
	}
	return ci.election, true
}

// ElectionForHash returns the election that owns a candidate hash, used
// by VoteProcessor to deliver votes for hashes not yet reconciled with a
// root.
func (a *ActiveTransactions) ElectionForHash(hash types.Hash) (*Election, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.successors[hash]
	return e, ok
}

// RegisterCandidate records that hash belongs to election, so future
// votes for hash resolve even before the block itself has been
// processed by the ledger.
func (a *ActiveTransactions) RegisterCandidate(hash types.Hash, election *Election) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successors[hash] = election
}

// Stop removes root's election from the active set, e.g. after
// confirmation or explicit abort.
func (a *ActiveTransactions) Stop(root types.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ci, ok := a.byRoot[root]
	if !ok {
		return
	}
	for h, e := range a.successors {
		if e == ci.election {
			delete(a.successors, h)
		}
	}
	delete(a.byRoot, root)
}

// AbortRoot aborts root's election (if any) and evicts it from the
// active set.
func (a *ActiveTransactions) AbortRoot(root types.Hash) bool {
	a.mu.Lock()
	ci, ok := a.byRoot[root]
	a.mu.Unlock()
	if !ok {
		return false
	}
	ci.election.Abort()
	a.Stop(root)
	a.metricsReg.ElectionAborted()
	return true
}

func (a *ActiveTransactions) recordConfirmed(root types.Hash, winner types.Block, tally map[types.Hash]types.Amount, at time.Time) {
	a.Stop(root)
	a.metricsReg.ElectionConfirmed()

	a.confirmedMu.Lock()
	a.confirmed = append(a.confirmed, ConfirmedRecord{Root: root, Winner: winner, Tally: tally, Confirmed: at})
	if len(a.confirmed) > a.historySize {
		a.confirmed = a.confirmed[len(a.confirmed)-a.historySize:]
	}
	a.confirmedMu.Unlock()
}

// ListConfirmed returns a snapshot of the recent-confirmations history.
func (a *ActiveTransactions) ListConfirmed() []ConfirmedRecord {
	a.confirmedMu.Lock()
	defer a.confirmedMu.Unlock()
	out := make([]ConfirmedRecord, len(a.confirmed))
	copy(out, a.confirmed)
	return out
}

// roots returns a root-hash-ordered snapshot of active elections, the
// order the announce loop walks them in.
func (a *ActiveTransactions) roots() []*conflictInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*conflictInfo, 0, len(a.byRoot))
	for _, ci := range a.byRoot {
		out = append(out, ci)
	}
	sort.Slice(out, func(i, j int) bool { return types.HashLess(out[i].root, out[j].root) })
	return out
}

// Run drives the announce loop until Stop is called. It ticks at
// ActiveTransactionsInterval normally, or the faster interval while any
// election is behind on announcements (announcements < AnnouncementMin).
func (a *ActiveTransactions) Run(onlineWeightMinimum types.Amount) {
	defer close(a.doneCh)
	for {
		interval := a.cfg.ActiveTransactionsInterval
		if a.anyBehind() {
			interval = a.cfg.ActiveTransactionsFastInterval
		}
		select {
		case <-a.stopCh:
			return
		case <-time.After(interval):
			a.announceRound(onlineWeightMinimum)
		}
	}
}

func (a *ActiveTransactions) anyBehind() bool {
	for _, ci := range a.roots() {
		if ci.election.Announcements() < a.cfg.AnnouncementMin {
			return true
		}
	}
	return false
}

// announceRound performs one pass of the announce loop over up to
// AnnouncementsPerInterval elections in root order.
func (a *ActiveTransactions) announceRound(onlineWeightMinimum types.Amount) {
	now := time.Now()
	roots := a.roots()
	limit := a.cfg.AnnouncementsPerInterval
	if limit > len(roots) {
		limit = len(roots)
	}
	for i := 0; i < limit; i++ {
		ci := roots[i]
		e := ci.election
		if e.Confirmed() || e.Aborted() {
			continue
		}

		count := e.Announcements()
		if count < a.cfg.AnnouncementMin {
			if a.broadcast != nil {
				if winner, ok := e.Winner(); ok {
					blocks := e.Blocks()
					if b, ok := blocks[winner]; ok {
						a.broadcast.Rebroadcast(b)
					}
				}
			}
		} else if a.broadcast != nil {
			a.broadcast.ConfirmReq(e.Root(), e.Blocks())
		}
		count = e.IncrementAnnouncements()
		if count == a.cfg.AnnouncementLong {
			a.log.WithField("root", types.HashString(e.Root())).WithField("announcements", count).
				Warn("election exceeded announcement_long without quorum")
			a.metricsReg.ElectionExpired()
		}

		e.ConfirmIfQuorum(onlineWeightMinimum, now)
	}
}

// StopLoop stops the announce loop and waits for it to exit.
func (a *ActiveTransactions) StopLoop() {
	a.once.Do(func() { close(a.stopCh) })
	<-a.doneCh
}
