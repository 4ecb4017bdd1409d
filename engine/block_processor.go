package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/types"
)

// Ledger is the transactional block store this package requires. Actual
// storage (on-disk key-value pairs) is out of scope; this interface is
// the seam an integration fills in.
type Ledger interface {
	// Process attempts to admit block into the ledger. When forced is
	// true, fork protection is bypassed and any conflicting block at the
	// same root is unconditionally overwritten.
	Process(block types.Block, forced bool) ProcessReturn
	GetBlock(hash types.Hash) (types.Block, bool)
	// OccupantAt returns the hash of the block currently holding root, if
	// any. handleFork uses this to recover the block a fork is contesting
	// against, since ProcessFork only carries the newly-arrived side.
	OccupantAt(root types.Hash) (types.Hash, bool)
	Rollback(hash types.Hash) error
	RepWeight(account types.Account) types.Amount
}

type blockItem struct {
	block   types.Block
	arrival time.Time
	forced  bool
}

// BlockProcessor is the single-consumer queue that admits blocks into
// the ledger. Block admission is totally ordered on its worker
// goroutine, the linearization point for fork detection.
type BlockProcessor struct {
	mu       sync.Mutex
	queue    []blockItem
	priority []blockItem // forced blocks, drained before queue
	queued   map[types.Hash]struct{}
	notEmpty chan struct{}

	ledger  Ledger
	active  *ActiveTransactions
	gaps    *GapCache
	arrival *BlockArrival

	batchSize int

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	flushMu sync.Mutex
	flushCh chan struct{}

	metricsReg *metrics.Registry

	log logrus.FieldLogger
}

// NewBlockProcessor constructs a BlockProcessor.
func NewBlockProcessor(ledger Ledger, active *ActiveTransactions, gaps *GapCache, arrival *BlockArrival, log logrus.FieldLogger) *BlockProcessor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlockProcessor{
		queued:    make(map[types.Hash]struct{}),
		notEmpty:  make(chan struct{}, 1),
		ledger:    ledger,
		active:    active,
		gaps:      gaps,
		arrival:   arrival,
		batchSize: 256,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       log.WithField("component", "block_processor"),
	}
}

// SetMetrics attaches a metrics registry blocks are reported against.
// Safe to call before Run starts; a nil BlockProcessor.metricsReg is
// itself a no-op, so this is optional.
func (bp *BlockProcessor) SetMetrics(reg *metrics.Registry) {
	bp.metricsReg = reg
}

// Add enqueues block unless it is already queued. Returns false if it
// was a duplicate enqueue (backpressure signal to the caller).
func (bp *BlockProcessor) Add(block types.Block, arrivalTime time.Time) bool {
	hash := block.Hash()
	bp.mu.Lock()
	if _, ok := bp.queued[hash]; ok {
		bp.mu.Unlock()
		return false
	}
	bp.queued[hash] = struct{}{}
	bp.queue = append(bp.queue, blockItem{block: block, arrival: arrivalTime})
	bp.mu.Unlock()

	bp.wake()
	return true
}

// Force pushes block onto the priority sub-queue, used to resolve forks
// by fiat from higher-layer logic (e.g. Election.confirmOnce). Forced
// blocks bypass fork protection and overwrite whatever currently
// occupies the root.
func (bp *BlockProcessor) Force(block types.Block) {
	bp.mu.Lock()
	bp.priority = append(bp.priority, blockItem{block: block, arrival: time.Now(), forced: true})
	bp.mu.Unlock()
	bp.wake()
}

func (bp *BlockProcessor) wake() {
	select {
	case bp.notEmpty <- struct{}{}:
	default:
	}
}

// Run drains the queue, a bounded batch at a time, until Stop is
// called.
func (bp *BlockProcessor) Run() {
	defer close(bp.doneCh)
	for {
		items := bp.drainBatch()
		if len(items) == 0 {
			select {
			case <-bp.stopCh:
				return
			case <-bp.notEmpty:
			}
			continue
		}
		for _, item := range items {
			bp.processOne(item)
		}
	}
}

func (bp *BlockProcessor) drainBatch() []blockItem {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var items []blockItem
	for len(bp.priority) > 0 && len(items) < bp.batchSize {
		item := bp.priority[0]
		bp.priority = bp.priority[1:]
		items = append(items, item)
	}
	for len(bp.queue) > 0 && len(items) < bp.batchSize {
		item := bp.queue[0]
		bp.queue = bp.queue[1:]
		delete(bp.queued, item.block.Hash())
		items = append(items, item)
	}
	if len(bp.queue) == 0 && len(bp.priority) == 0 {
		bp.signalFlush()
	}
	return items
}

func (bp *BlockProcessor) signalFlush() {
	bp.flushMu.Lock()
	if bp.flushCh != nil {
		close(bp.flushCh)
		bp.flushCh = nil
	}
	bp.flushMu.Unlock()
}

// Flush blocks until the queue (and priority queue) have drained.
func (bp *BlockProcessor) Flush() {
	for {
		bp.mu.Lock()
		if len(bp.queue) == 0 && len(bp.priority) == 0 {
			bp.mu.Unlock()
			return
		}
		bp.flushMu.Lock()
		if bp.flushCh == nil {
			bp.flushCh = make(chan struct{})
		}
		ch := bp.flushCh
		bp.flushMu.Unlock()
		bp.mu.Unlock()
		<-ch
	}
}

// processOne runs one block through the ledger and reacts to the
// process_return code, per spec.md's processing discipline.
func (bp *BlockProcessor) processOne(item blockItem) ProcessReturn {
	ret := bp.ledger.Process(item.block, item.forced)
	bp.metricsReg.BlockProcessed(ret.String())
	hash := item.block.Hash()
	entry := bp.log.WithField("hash", types.HashString(hash)).WithField("return", ret.String())

	switch ret {
	case ProcessProgress:
		bp.arrival.Add(hash, item.arrival)
		if election, ok := bp.active.ElectionForHash(hash); ok {
			election.Publish(item.block)
		}
		bp.gaps.Remove(hash)
	case ProcessGapPrevious:
		bp.gaps.Add(hash, item.block.Previous(), item.arrival)
	case ProcessGapSource:
		bp.gaps.Add(hash, item.block.Previous(), item.arrival)
	case ProcessFork:
		bp.handleFork(item.block)
	case ProcessOld:
		entry.Debug("duplicate block")
	default:
		entry.Debug("block rejected by ledger")
	}
	return ret
}

// handleFork starts (or joins) an election over block's root when the
// ledger reports a conflicting block already occupies that root. The
// block already admitted at root never reaches this method on its own
// (it was processed and accepted before the fork arrived), so it must
// be fetched from the ledger and published as a candidate explicitly —
// otherwise it could never win the election regardless of vote weight,
// since HaveQuorum/winningHash only ever consider blocks published into
// e.blocks.
func (bp *BlockProcessor) handleFork(block types.Block) {
	root := block.Root()

	if election, ok := bp.active.ElectionFor(root); ok {
		election.Publish(block)
		bp.active.RegisterCandidate(block.Hash(), election)
		return
	}

	election, started := bp.active.Start(block, bp, bp.ledger.Rollback, nil)
	if started {
		bp.publishOccupant(election, root)
		bp.active.RegisterCandidate(block.Hash(), election)
	} else {
		election.Publish(block)
		bp.active.RegisterCandidate(block.Hash(), election)
	}
}

// publishOccupant looks up the block currently occupying root in the
// ledger and, if found, adds it as a candidate to election alongside
// whatever seeded the election. A miss (occupant hash unknown to
// GetBlock) is logged and otherwise ignored: the election still
// proceeds with whatever candidates it has, though it can then only
// ever re-confirm the forking side.
func (bp *BlockProcessor) publishOccupant(election *Election, root types.Hash) {
	occupantHash, ok := bp.ledger.OccupantAt(root)
	if !ok {
		return
	}
	occupant, ok := bp.ledger.GetBlock(occupantHash)
	if !ok {
		bp.log.WithField("root", types.HashString(root)).
			WithField("hash", types.HashString(occupantHash)).
			Warn("fork election started but ledger occupant block not found")
		return
	}
	election.Publish(occupant)
	bp.active.RegisterCandidate(occupantHash, election)
}

// Stop halts the worker and waits for it to exit.
func (bp *BlockProcessor) Stop() {
	bp.once.Do(func() { close(bp.stopCh) })
	<-bp.doneCh
}
