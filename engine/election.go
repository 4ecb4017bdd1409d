package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xinGGG/raiblocks/types"
)

type voteRecord struct {
	time     time.Time
	sequence uint64
	hash     types.Hash
}

// ConfirmObserver is invoked exactly once when an election confirms.
type ConfirmObserver func(root types.Hash, winner types.Block, tally map[types.Hash]types.Amount, at time.Time)

// RollbackFunc removes a block (and its descendants, per ledger policy)
// that lost an election over its root. Supplied by the ledger
// integration, out of scope for this package.
type RollbackFunc func(hash types.Hash) error

// Election holds all state for one contested root: the candidate
// blocks, per-representative vote bookkeeping, and the tally/quorum
// machinery that drives it to confirmation.
//
// vote, publish, and confirm_if_quorum all serialize on mu; confirmed
// transitions false to true at most once, guarded by the same lock, so
// confirm_once's side effects (rollback, force, observer) never run
// twice.
type Election struct {
	mu sync.Mutex

	root      types.Hash
	blocks    map[types.Hash]types.Block
	lastVotes map[types.Account]voteRecord
	lastTally map[types.Hash]types.Amount
	winner    types.Hash

	confirmed     bool
	aborted       bool
	announcements int

	onlineReps    *OnlineReps
	quorumPercent int

	blockProcessor *BlockProcessor
	rollback       RollbackFunc
	onConfirm      ConfirmObserver

	log logrus.FieldLogger
}

// NewElection constructs an election over root, seeded with the first
// candidate block.
func NewElection(root types.Hash, block types.Block, onlineReps *OnlineReps, quorumPercent int, bp *BlockProcessor, rollback RollbackFunc, onConfirm ConfirmObserver, log logrus.FieldLogger) *Election {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Election{
		root:           root,
		blocks:         make(map[types.Hash]types.Block),
		lastVotes:      make(map[types.Account]voteRecord),
		lastTally:      make(map[types.Hash]types.Amount),
		onlineReps:     onlineReps,
		quorumPercent:  quorumPercent,
		blockProcessor: bp,
		rollback:       rollback,
		onConfirm:      onConfirm,
		log:            log.WithField("component", "election"),
	}
	if block != nil {
		e.blocks[block.Hash()] = block
		e.winner = block.Hash()
	}
	return e
}

// Root returns the root this election contests.
func (e *Election) Root() types.Hash { return e.root }

// Vote records account's preference for hash at sequence. Returns
// (replay, processed): replay is true when sequence does not exceed the
// account's last known sequence for this root, in which case the vote
// has no effect. Otherwise the vote is recorded even if hash is not yet
// among the election's candidate blocks — it may score a block learned
// later via Publish.
func (e *Election) Vote(account types.Account, sequence uint64, hash types.Hash, now time.Time) (replay bool, processed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.lastVotes[account]; ok && existing.sequence >= sequence {
		return true, false
	}
	e.lastVotes[account] = voteRecord{time: now, sequence: sequence, hash: hash}
	return false, true
}

// Publish adds block as a candidate for this election. Returns true if
// this hash is new to the election.
func (e *Election) Publish(block types.Block) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	hash := block.Hash()
	if _, ok := e.blocks[hash]; ok {
		return false
	}
	e.blocks[hash] = block
	if types.IsHashEmpty(&e.winner) {
		e.winner = hash
	}
	return true
}

// Tally computes hash -> summed representative weight across all
// recorded votes, using OnlineReps' cached weight lookup.
func (e *Election) Tally() map[types.Hash]types.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tallyLocked()
}

func (e *Election) tallyLocked() map[types.Hash]types.Amount {
	tally := make(map[types.Hash]types.Amount)
	for account, rec := range e.lastVotes {
		weight := e.onlineReps.WeightOf(account)
		tally[rec.hash] = tally[rec.hash].Add(weight)
	}
	e.lastTally = tally
	return tally
}

// winningHash returns the hash with maximum tallied weight among
// candidates actually present in e.blocks, and that weight.
func winningHash(tally map[types.Hash]types.Amount, blocks map[types.Hash]types.Block) (types.Hash, types.Amount) {
	var best types.Hash
	bestWeight := types.ZeroAmount()
	found := false
	for hash := range blocks {
		w := tally[hash]
		if !found || w.Cmp(bestWeight) > 0 {
			best, bestWeight, found = hash, w, true
		}
	}
	return best, bestWeight
}

// HaveQuorum reports whether the current winner's tallied weight meets
// the quorum threshold: max(online_stake, online_weight_minimum) *
// quorum_percent / 100. online_weight_minimum is represented here as a
// floor passed in by the caller (ActiveTransactions), since it is a
// node-wide configured constant rather than election state.
func (e *Election) HaveQuorum(tally map[types.Hash]types.Amount, onlineWeightMinimum types.Amount) bool {
	e.mu.Lock()
	blocks := e.blocks
	quorumPercent := e.quorumPercent
	e.mu.Unlock()

	_, winnerWeight := winningHash(tally, blocks)
	online := e.onlineReps.OnlineStakeTotal()
	base := online
	if onlineWeightMinimum.Cmp(base) > 0 {
		base = onlineWeightMinimum
	}
	threshold := base.MulFraction(int64(quorumPercent), 100)
	return winnerWeight.Cmp(threshold) >= 0
}

// ConfirmIfQuorum checks the current tally for quorum and, if reached,
// confirms the election exactly once: rolls back any conflicting block
// already in the ledger, force-processes the winner, and fires the
// confirm observer.
func (e *Election) ConfirmIfQuorum(onlineWeightMinimum types.Amount, now time.Time) bool {
	e.mu.Lock()
	if e.confirmed || e.aborted {
		e.mu.Unlock()
		return false
	}
	tally := e.tallyLocked()
	winner, winnerWeight := winningHash(tally, e.blocks)
	online := e.onlineReps.OnlineStakeTotal()
	base := online
	if onlineWeightMinimum.Cmp(base) > 0 {
		base = onlineWeightMinimum
	}
	threshold := base.MulFraction(int64(e.quorumPercent), 100)
	if winnerWeight.Cmp(threshold) < 0 {
		e.mu.Unlock()
		return false
	}
	winnerBlock, ok := e.blocks[winner]
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.confirmed = true
	e.winner = winner
	tallySnapshot := make(map[types.Hash]types.Amount, len(tally))
	for h, w := range tally {
		tallySnapshot[h] = w
	}
	e.mu.Unlock()

	e.confirmOnce(winnerBlock, tallySnapshot, now)
	return true
}

// confirmOnce performs the one-time side effects of confirmation. It
// runs outside e.mu since rollback/force may themselves touch other
// elections; the confirmed flag set under e.mu already guarantees this
// runs at most once.
func (e *Election) confirmOnce(winner types.Block, tally map[types.Hash]types.Amount, now time.Time) {
	e.mu.Lock()
	for hash := range e.blocks {
		if !types.HashEqual(hash, winner.Hash()) && e.rollback != nil {
			if err := e.rollback(hash); err != nil {
				e.log.WithField("hash", types.HashString(hash)).WithError(err).Warn("rollback of losing block failed")
			}
		}
	}
	e.mu.Unlock()

	if e.blockProcessor != nil {
		e.blockProcessor.Force(winner)
	}
	if e.onConfirm != nil {
		e.onConfirm(e.root, winner, tally, now)
	}
}

// Confirmed reports whether this election has already confirmed.
func (e *Election) Confirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed
}

// Abort marks the election as aborted; subsequent votes still record
// into last_votes (for diagnostics) but ConfirmIfQuorum becomes a no-op.
func (e *Election) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

// Aborted reports whether this election has been aborted.
func (e *Election) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Announcements returns the current rebroadcast/confirm-req count.
func (e *Election) Announcements() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.announcements
}

// IncrementAnnouncements bumps the rebroadcast count and returns the new
// value.
func (e *Election) IncrementAnnouncements() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.announcements++
	return e.announcements
}

// Winner returns the current leading candidate hash, and whether a
// candidate is known at all.
func (e *Election) Winner() (types.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.blocks) == 0 {
		return types.Hash{}, false
	}
	return e.winner, true
}

// Blocks returns a snapshot of the current candidate set.
func (e *Election) Blocks() map[types.Hash]types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Hash]types.Block, len(e.blocks))
	for h, b := range e.blocks {
		out[h] = b
	}
	return out
}
