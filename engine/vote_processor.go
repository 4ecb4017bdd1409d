package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/types"
)

// SourceEndpoint identifies where a vote arrived from, opaque to this
// package (networking is out of scope).
type SourceEndpoint string

type voteItem struct {
	vote   *types.Vote
	source SourceEndpoint
}

// VoteProcessor is the single-consumer queue that validates incoming
// votes and routes them to the election owning each referenced hash.
// All vote admission is totally ordered on its worker goroutine.
type VoteProcessor struct {
	mu      sync.Mutex
	queue   []voteItem
	notEmpty chan struct{}

	active *ActiveTransactions
	online *OnlineReps
	gaps   *GapCache

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	flushMu sync.Mutex
	flushCh chan struct{}

	metricsReg *metrics.Registry

	log logrus.FieldLogger
}

// NewVoteProcessor constructs a VoteProcessor.
func NewVoteProcessor(active *ActiveTransactions, online *OnlineReps, gaps *GapCache, log logrus.FieldLogger) *VoteProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VoteProcessor{
		notEmpty: make(chan struct{}, 1),
		active:   active,
		online:   online,
		gaps:     gaps,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      log.WithField("component", "vote_processor"),
	}
}

// SetMetrics attaches a metrics registry processed votes are reported
// against. Safe to call before Run starts.
func (vp *VoteProcessor) SetMetrics(reg *metrics.Registry) {
	vp.metricsReg = reg
}

// Add enqueues vote for processing.
func (vp *VoteProcessor) Add(vote *types.Vote, source SourceEndpoint) {
	vp.mu.Lock()
	vp.queue = append(vp.queue, voteItem{vote: vote, source: source})
	vp.mu.Unlock()
	select {
	case vp.notEmpty <- struct{}{}:
	default:
	}
}

// Run drains the queue until Stop is called.
func (vp *VoteProcessor) Run() {
	defer close(vp.doneCh)
	for {
		item, ok := vp.dequeue()
		if ok {
			vp.process(item)
			continue
		}
		select {
		case <-vp.stopCh:
			return
		case <-vp.notEmpty:
		}
	}
}

func (vp *VoteProcessor) dequeue() (voteItem, bool) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	if len(vp.queue) == 0 {
		vp.signalFlush()
		return voteItem{}, false
	}
	item := vp.queue[0]
	vp.queue = vp.queue[1:]
	return item, true
}

// signalFlush wakes any pending Flush callers; caller holds vp.mu.
func (vp *VoteProcessor) signalFlush() {
	vp.flushMu.Lock()
	if vp.flushCh != nil {
		close(vp.flushCh)
		vp.flushCh = nil
	}
	vp.flushMu.Unlock()
}

// Flush blocks until the queue has drained, for test determinism.
func (vp *VoteProcessor) Flush() {
	for {
		vp.mu.Lock()
		if len(vp.queue) == 0 {
			vp.mu.Unlock()
			return
		}
		vp.flushMu.Lock()
		if vp.flushCh == nil {
			vp.flushCh = make(chan struct{})
		}
		ch := vp.flushCh
		vp.flushMu.Unlock()
		vp.mu.Unlock()
		<-ch
	}
}

// process validates vote's signature, then delivers it for each hash it
// references to whichever election (if any) currently owns that hash.
func (vp *VoteProcessor) process(item voteItem) VoteCode {
	v := item.vote
	if err := v.Verify(); err != nil {
		vp.log.WithField("account", types.HashString(types.Hash{Data: v.Account.Data})).Debug("dropping vote with invalid signature")
		vp.metricsReg.VoteProcessed(VoteCodeInvalid.String())
		return VoteCodeInvalid
	}

	now := time.Now()
	weight := vp.online.WeightOf(v.Account)
	vp.online.Observe(v.Account, weight, now)

	code := VoteCodeVote
	for _, hash := range v.Hashes {
		election, ok := vp.active.ElectionForHash(hash)
		if !ok {
			if triggered, previous := vp.gaps.Vote(hash, v.Account, weight, vp.online.OnlineStakeTotal()); triggered {
				vp.metricsReg.GapBootstrapTriggered()
				vp.log.WithField("hash", types.HashString(hash)).
					WithField("previous", types.HashString(previous)).
					Info("gap vote weight crossed bootstrap threshold")
			}
			continue
		}
		replay, _ := election.Vote(v.Account, v.Sequence, hash, now)
		if replay {
			code = VoteCodeReplay
		}
	}
	vp.metricsReg.VoteProcessed(code.String())
	return code
}

// Stop halts the worker and waits for it to exit.
func (vp *VoteProcessor) Stop() {
	vp.once.Do(func() { close(vp.stopCh) })
	<-vp.doneCh
}
