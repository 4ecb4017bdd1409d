// Package evidence records forks: two blocks
// from the same account sharing a root (previous hash, or the account
// itself on open) but differing in content.
//
// A fork here does not imply Byzantine intent the way duplicate-vote
// evidence does in a BFT validator set; it is simply what happens when a
// double-spend is attempted, or when two conflicting blocks are
// broadcast for any reason. Recording it does not change which block an
// Election ultimately confirms — that remains exactly as spec.md's
// Election describes — it only makes the conflict queryable for
// diagnostics.
//
// # Evidence
//
// ForkEvidence holds the conflicting pair:
//
//	type ForkEvidence struct {
//	    Account    types.Account
//	    Root       types.Hash
//	    BlockA     types.Block
//	    BlockB     types.Block
//	    ObservedAt time.Time
//	}
//
// # Core Interface
//
//	type Pool struct { ... }
//	func NewPool(config Config) *Pool
//	func (p *Pool) Record(account types.Account, a, b types.Block, observedAt time.Time) (*ForkEvidence, error)
//	func (p *Pool) ForRoot(root types.Hash) []ForkEvidence
//	func (p *Pool) Pending() []ForkEvidence
//	func (p *Pool) Prune(now time.Time)
//
// # Validation
//
// Record rejects:
//
//  1. Identical blocks (ErrSameBlock) — not a fork.
//  2. Blocks whose roots differ (ErrDifferentRoots) — Record is only for
//     same-root conflicts; the caller is responsible for recognizing
//     when two blocks actually contend for the same root before calling
//     Record.
//  3. A pair already recorded, in either order (ErrDuplicateFork).
//
// # Lifecycle
//
//  1. BlockProcessor's ledger reports ProcessFork for an incoming block.
//  2. The caller handling the fork looks up the block currently
//     occupying that root and calls Pool.Record with both blocks.
//     BlockProcessor holds no Pool: its fork handling starts or joins an
//     election over the root and records nothing here.
//  3. The pair is retained, indexed by root, until Prune discards it
//     past config.MaxAge or it is evicted by config.MaxEntries pressure.
//
// # Expiration
//
// Entries older than config.MaxAge are dropped by Prune. MaxEntries
// bounds the pool regardless of age, evicting the oldest entries first,
// to keep memory use predictable under a flood of fork attempts.
//
// # Thread Safety
//
// Pool uses internal locking; Record, ForRoot, Pending, and Prune may be
// called concurrently.
//
// # Usage Example
//
//	pool := evidence.NewPool(evidence.DefaultConfig())
//
//	occupantHash, _ := ledger.OccupantAt(block.Root())
//	existing, _ := ledger.GetBlock(occupantHash)
//	if ev, err := pool.Record(block.Account(), existing, block, time.Now()); err == nil {
//	    log.WithField("root", types.HashString(ev.Root)).Warn("fork recorded")
//	}
package evidence
