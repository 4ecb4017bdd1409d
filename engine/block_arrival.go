package engine

import (
	"sync"
	"time"

	"github.com/xinGGG/raiblocks/types"
)

type arrivalEntry struct {
	arrivalTime time.Time
	hash        types.Hash
}

// BlockArrival is a ring-buffered record of recently-seen block hashes,
// used to distinguish a block freshly gossiped by a peer from one
// replayed during bootstrap. Eviction happens by age once the buffer
// exceeds its floor size, never below it, so a burst of arrivals never
// starves the recency window.
type BlockArrival struct {
	mu      sync.Mutex
	entries []arrivalEntry
	byHash  map[types.Hash]int // hash -> index into entries; evicted hashes are deleted

	arrivalTimeMin time.Duration
	arrivalSizeMin int
}

// NewBlockArrival constructs a BlockArrival using the given config.
func NewBlockArrival(cfg *NodeConfig) *BlockArrival {
	return &BlockArrival{
		byHash:         make(map[types.Hash]int),
		arrivalTimeMin: cfg.ArrivalTimeMin,
		arrivalSizeMin: cfg.ArrivalSizeMin,
	}
}

// Add records hash as having just arrived at now. Returns true if this
// hash was not already recorded as recent.
func (a *BlockArrival) Add(hash types.Hash, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byHash[hash]; ok {
		return false
	}
	a.entries = append(a.entries, arrivalEntry{arrivalTime: now, hash: hash})
	a.byHash[hash] = len(a.entries) - 1
	a.evict(now)
	return true
}

// Recent reports whether hash arrived recently enough to be treated as
// live traffic rather than a bootstrap replay.
func (a *BlockArrival) Recent(hash types.Hash) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byHash[hash]
	return ok
}

// evict drops entries older than arrivalTimeMin, but only once the
// buffer is larger than arrivalSizeMin; callers hold a.mu.
func (a *BlockArrival) evict(now time.Time) {
	for len(a.entries) > a.arrivalSizeMin {
		oldest := a.entries[0]
		if now.Sub(oldest.arrivalTime) < a.arrivalTimeMin {
			break
		}
		delete(a.byHash, oldest.hash)
		a.entries = a.entries[1:]
		for h, idx := range a.byHash {
			a.byHash[h] = idx - 1
		}
	}
}

// Size returns the number of hashes currently tracked.
func (a *BlockArrival) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
