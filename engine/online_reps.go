package engine

import (
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/xinGGG/raiblocks/metrics"
	"github.com/xinGGG/raiblocks/types"
)

// WeightLookup resolves a representative's current ledger weight. It is
// supplied by the ledger integration, out of scope for this package.
type WeightLookup func(account types.Account) types.Amount

// OnlineReps maintains a sliding estimate of the stake currently online,
// used to compute the quorum threshold. It never lowers the estimate
// mid-tally: Observe only raises online_stake_total within the current
// sampling window, and a background trim only removes accounts once
// they've been silent past the window.
type OnlineReps struct {
	mu sync.Mutex

	window   time.Duration
	lastSeen map[types.Account]time.Time
	weightOf WeightLookup

	onlineStakeTotal types.Amount

	weightCache *lru.Cache

	metricsReg *metrics.Registry
}

// NewOnlineReps constructs an OnlineReps sampler. weightOf resolves a
// representative's weight from the ledger; it may be nil in tests that
// drive OnlineReps with explicit weights via Observe.
func NewOnlineReps(cfg *NodeConfig, weightOf WeightLookup) *OnlineReps {
	cache, _ := lru.New(4096)
	return &OnlineReps{
		window:      cfg.OnlineWeightWindow,
		lastSeen:    make(map[types.Account]time.Time),
		weightOf:    weightOf,
		weightCache: cache,
	}
}

// SetMetrics attaches a metrics registry the online-weight and
// reps-online gauges are reported against.
func (o *OnlineReps) SetMetrics(reg *metrics.Registry) {
	o.metricsReg = reg
}

// WeightOf returns account's cached representative weight, resolving and
// caching it from the ledger lookup on a miss. This is node.hpp's
// rep_weights cache: Election.HaveQuorum should never force a full
// ledger scan per vote.
func (o *OnlineReps) WeightOf(account types.Account) types.Amount {
	if v, ok := o.weightCache.Get(account); ok {
		return v.(types.Amount)
	}
	var w types.Amount
	if o.weightOf != nil {
		w = o.weightOf(account)
	}
	o.weightCache.Add(account, w)
	return w
}

// InvalidateWeight drops account's cached weight, e.g. after a change
// block alters its delegated stake.
func (o *OnlineReps) InvalidateWeight(account types.Account) {
	o.weightCache.Remove(account)
}

// Observe records that account was seen voting at now with the given
// weight, raising the online stake estimate if this is new information
// within the current window.
func (o *OnlineReps) Observe(account types.Account, weight types.Amount, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if last, ok := o.lastSeen[account]; ok && now.Sub(last) < o.window {
		o.lastSeen[account] = now
		return
	}
	o.lastSeen[account] = now
	o.onlineStakeTotal = o.onlineStakeTotal.Add(weight)
	o.reportMetricsLocked()
}

// Trim drops accounts not seen within the window, recomputing the total
// from scratch. This is the only path by which the estimate can fall.
func (o *OnlineReps) Trim(now time.Time, weightOf WeightLookup) {
	o.mu.Lock()
	defer o.mu.Unlock()

	total := types.ZeroAmount()
	for account, last := range o.lastSeen {
		if now.Sub(last) >= o.window {
			delete(o.lastSeen, account)
			continue
		}
		if weightOf != nil {
			total = total.Add(weightOf(account))
		}
	}
	o.onlineStakeTotal = total
	o.reportMetricsLocked()
}

// reportMetricsLocked pushes the current estimate to the metrics
// registry; caller holds o.mu.
func (o *OnlineReps) reportMetricsLocked() {
	o.metricsReg.SetRepsOnline(len(o.lastSeen))
	weight := new(big.Float)
	weight.SetString(o.onlineStakeTotal.String())
	f, _ := weight.Float64()
	o.metricsReg.SetOnlineWeight(f)
}

// OnlineStakeTotal returns the current sliding estimate.
func (o *OnlineReps) OnlineStakeTotal() types.Amount {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.onlineStakeTotal
}
