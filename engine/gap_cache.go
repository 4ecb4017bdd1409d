package engine

import (
	"sync"
	"time"

	"github.com/xinGGG/raiblocks/types"
)

type gapEntry struct {
	arrivalTime  time.Time
	hash         types.Hash
	previous     types.Hash
	voters       map[types.Account]types.Amount
	weightTotal  types.Amount
}

// GapCache buffers blocks whose previous hash is not yet known to the
// ledger. Votes observed for a gapped hash accumulate weight; once the
// accumulated weight crosses the bootstrap threshold, the missing
// predecessor is worth fetching even though no block for it has arrived.
type GapCache struct {
	mu      sync.Mutex
	entries map[types.Hash]*gapEntry // keyed by the gapped block's own hash
	order   []types.Hash             // insertion order, oldest first

	max                       int
	bootstrapThresholdPercent int
}

// NewGapCache constructs a GapCache using the given config.
func NewGapCache(cfg *NodeConfig) *GapCache {
	return &GapCache{
		entries:                   make(map[types.Hash]*gapEntry),
		max:                       cfg.GapCacheMax,
		bootstrapThresholdPercent: cfg.BootstrapThresholdPercent,
	}
}

// Add registers a block with a missing predecessor. Returns false if the
// entry already existed.
func (g *GapCache) Add(hash, previous types.Hash, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entries[hash]; ok {
		return false
	}
	g.entries[hash] = &gapEntry{
		arrivalTime: now,
		hash:        hash,
		previous:    previous,
		voters:      make(map[types.Account]types.Amount),
	}
	g.order = append(g.order, hash)
	g.evictOldest()
	return true
}

// Vote records account's weight against hash's gap entry. Returns
// (bootstrapTrigger, previous) — bootstrapTrigger is true the moment the
// accumulated weight crosses the configured threshold of onlineStake.
func (g *GapCache) Vote(hash types.Hash, account types.Account, weight types.Amount, onlineStake types.Amount) (bool, types.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[hash]
	if !ok {
		return false, types.Hash{}
	}
	wasBelow := e.weightTotal.MulFraction(100, 1).Cmp(onlineStake.MulFraction(int64(g.bootstrapThresholdPercent), 1)) < 0

	if prior, ok := e.voters[account]; ok {
		e.weightTotal = e.weightTotal.Sub(prior)
	}
	e.voters[account] = weight
	e.weightTotal = e.weightTotal.Add(weight)

	isAbove := e.weightTotal.MulFraction(100, 1).Cmp(onlineStake.MulFraction(int64(g.bootstrapThresholdPercent), 1)) >= 0
	return wasBelow && isAbove, e.previous
}

// Remove drops hash's gap entry, typically once the predecessor arrives
// and the block can be reprocessed.
func (g *GapCache) Remove(hash types.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(hash)
}

func (g *GapCache) removeLocked(hash types.Hash) {
	if _, ok := g.entries[hash]; !ok {
		return
	}
	delete(g.entries, hash)
	for i, h := range g.order {
		if types.HashEqual(h, hash) {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// evictOldest purges the oldest entries once the cache exceeds max;
// callers hold g.mu.
func (g *GapCache) evictOldest() {
	for len(g.order) > g.max {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.entries, oldest)
	}
}

// Size returns the number of gap entries currently buffered.
func (g *GapCache) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
