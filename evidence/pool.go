package evidence

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrInvalidFork    = errors.New("invalid fork evidence")
	ErrDuplicateFork  = errors.New("duplicate fork evidence")
	ErrForkExpired    = errors.New("fork evidence expired")
	ErrSameBlock      = errors.New("blocks are identical, not a fork")
	ErrDifferentRoots = errors.New("blocks do not share a root")
)

// MaxSeenForks bounds memory used by the pool's dedup set, independent
// of MaxEntries (the pruned/retained evidence list).
const MaxSeenForks = 100000

// Config holds fork pool configuration.
type Config struct {
	// MaxAge is how long a fork stays queryable before Prune discards it.
	MaxAge time.Duration
	// MaxEntries bounds the pool's retained evidence count regardless of
	// age; oldest entries are evicted first.
	MaxEntries int
}

// DefaultConfig returns default fork pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:     48 * time.Hour,
		MaxEntries: 100000,
	}
}

// ForkEvidence records two blocks from the same account sharing a root
// (previous hash, or the account itself on open), i.e. a double-spend or
// equivocation attempt. Recording it changes nothing about which block
// an Election ultimately confirms; it exists purely so the conflict is
// queryable for diagnostics, matching spec.md's "confirmed" semantics
// remaining untouched.
type ForkEvidence struct {
	Account    types.Account
	Root       types.Hash
	BlockA     types.Block
	BlockB     types.Block
	ObservedAt time.Time
}

// Pool (ForkPool) records fork pairs handed to Record, adapted
// from the teacher's Byzantine-evidence pool to this domain: instead of
// duplicate-vote evidence keyed by validator/height/round, entries are
// keyed by account/root and carry the two conflicting blocks themselves.
type Pool struct {
	mu     sync.Mutex
	config Config

	entries []ForkEvidence
	seen    map[string]struct{}

	byRoot map[types.Hash][]int // indexes into entries
}

// NewPool creates a new fork evidence pool.
func NewPool(config Config) *Pool {
	return &Pool{
		config: config,
		seen:   make(map[string]struct{}),
		byRoot: make(map[types.Hash][]int),
	}
}

// Record validates and stores a fork between a and b, two blocks that
// must share the same root and account but have different hashes.
// Returns ErrDuplicateFork if this exact pair was already recorded.
func (p *Pool) Record(account types.Account, a, b types.Block, observedAt time.Time) (*ForkEvidence, error) {
	if types.HashEqual(a.Hash(), b.Hash()) {
		return nil, ErrSameBlock
	}
	if !types.HashEqual(a.Root(), b.Root()) {
		return nil, ErrDifferentRoots
	}
	root := a.Root()

	p.mu.Lock()
	defer p.mu.Unlock()

	key := forkKey(account, a.Hash(), b.Hash())
	if _, ok := p.seen[key]; ok {
		return nil, ErrDuplicateFork
	}

	if len(p.seen) >= MaxSeenForks {
		p.pruneOldestLocked(MaxSeenForks / 10)
	}

	ev := ForkEvidence{Account: account, Root: root, BlockA: a, BlockB: b, ObservedAt: observedAt}
	p.entries = append(p.entries, ev)
	idx := len(p.entries) - 1
	p.byRoot[root] = append(p.byRoot[root], idx)
	p.seen[key] = struct{}{}

	if p.config.MaxEntries > 0 && len(p.entries) > p.config.MaxEntries {
		p.pruneOldestLocked(len(p.entries) - p.config.MaxEntries)
	}

	return &ev, nil
}

// ForRoot returns every recorded fork sharing root.
func (p *Pool) ForRoot(root types.Hash) []ForkEvidence {
	p.mu.Lock()
	defer p.mu.Unlock()

	idxs := p.byRoot[root]
	out := make([]ForkEvidence, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, p.entries[i])
	}
	return out
}

// Pending returns every currently retained fork, oldest first.
func (p *Pool) Pending() []ForkEvidence {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ForkEvidence, len(p.entries))
	copy(out, p.entries)
	return out
}

// Size returns the number of retained fork entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Prune discards entries older than config.MaxAge as of now.
func (p *Pool) Prune(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneExpiredLocked(now)
}

func (p *Pool) pruneExpiredLocked(now time.Time) {
	if p.config.MaxAge <= 0 {
		return
	}
	var kept []ForkEvidence
	for _, ev := range p.entries {
		if now.Sub(ev.ObservedAt) <= p.config.MaxAge {
			kept = append(kept, ev)
		} else {
			delete(p.seen, forkKey(ev.Account, ev.BlockA.Hash(), ev.BlockB.Hash()))
		}
	}
	p.entries = kept
	p.rebuildIndexLocked()
}

// pruneOldestLocked drops the n oldest entries (by ObservedAt). Caller
// holds p.mu.
func (p *Pool) pruneOldestLocked(n int) {
	if n <= 0 || len(p.entries) == 0 {
		return
	}
	if n > len(p.entries) {
		n = len(p.entries)
	}
	// entries are append-only and chronological, so the prefix is the
	// oldest slice.
	for _, ev := range p.entries[:n] {
		delete(p.seen, forkKey(ev.Account, ev.BlockA.Hash(), ev.BlockB.Hash()))
	}
	p.entries = p.entries[n:]
	p.rebuildIndexLocked()
}

func (p *Pool) rebuildIndexLocked() {
	p.byRoot = make(map[types.Hash][]int, len(p.byRoot))
	for i, ev := range p.entries {
		p.byRoot[ev.Root] = append(p.byRoot[ev.Root], i)
	}
}

func forkKey(account types.Account, hashA, hashB types.Hash) string {
	// Order-independent: (A,B) and (B,A) are the same fork.
	if types.HashLess(hashB, hashA) {
		hashA, hashB = hashB, hashA
	}
	return hex.EncodeToString(account.Bytes()) + "/" + types.HashString(hashA) + "/" + types.HashString(hashB)
}
