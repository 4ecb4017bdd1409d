// Package metrics wraps the prometheus counters and gauges the engine
// and musig packages report against, grounded on the same
// prometheus/client_golang usage the retrieved example repos register
// their own subsystem metrics with.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namePrefix = "raiblocks_"

// Registry holds every metric the node reports. A nil *Registry is
// valid and every method on it is a no-op, so components can take a
// *Registry without every test needing to construct one.
type Registry struct {
	reg *prometheus.Registry

	electionsStarted   prometheus.Counter
	electionsConfirmed prometheus.Counter
	electionsAborted   prometheus.Counter
	electionsExpired   prometheus.Counter

	votesProcessed  *prometheus.CounterVec // label: code
	blocksProcessed *prometheus.CounterVec // label: result

	staplesCompleted prometheus.Counter
	staplesFailed    *prometheus.CounterVec // label: reason

	gapBootstrapTriggered prometheus.Counter

	peersConnected prometheus.Gauge
	repsOnline     prometheus.Gauge
	onlineWeight   prometheus.Gauge
}

// NewRegistry constructs a Registry and registers every metric against
// a fresh prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.electionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "elections_started_total",
		Help: "Total number of elections started.",
	})
	r.electionsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "elections_confirmed_total",
		Help: "Total number of elections that reached quorum.",
	})
	r.electionsAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "elections_aborted_total",
		Help: "Total number of elections aborted before confirmation.",
	})
	r.electionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "elections_expired_total",
		Help: "Total number of elections that reached announcement_long rounds without quorum.",
	})

	r.votesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: namePrefix + "votes_processed_total",
		Help: "Total number of votes processed, by VoteCode.",
	}, []string{"code"})

	r.blocksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: namePrefix + "blocks_processed_total",
		Help: "Total number of blocks processed, by ProcessReturn.",
	}, []string{"result"})

	r.staplesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "staples_completed_total",
		Help: "Total number of vote staples successfully assembled.",
	})
	r.staplesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: namePrefix + "staples_failed_total",
		Help: "Total number of vote staple attempts that fell back to full broadcast, by reason.",
	}, []string{"reason"})

	r.gapBootstrapTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: namePrefix + "gap_bootstrap_triggered_total",
		Help: "Total number of times a vote for an unknown hash pushed its gap entry's weight over the bootstrap threshold.",
	})

	r.peersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "peers_connected",
		Help: "Current number of known peers.",
	})
	r.repsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "representatives_online",
		Help: "Current number of representatives observed online.",
	})
	r.onlineWeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "online_weight",
		Help: "Current estimated total online voting weight.",
	})

	r.reg.MustRegister(
		r.electionsStarted, r.electionsConfirmed, r.electionsAborted, r.electionsExpired,
		r.votesProcessed, r.blocksProcessed,
		r.staplesCompleted, r.staplesFailed,
		r.gapBootstrapTriggered,
		r.peersConnected, r.repsOnline, r.onlineWeight,
	)

	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// /metrics handler to serve.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) ElectionStarted() {
	if r == nil {
		return
	}
	r.electionsStarted.Inc()
}

func (r *Registry) ElectionConfirmed() {
	if r == nil {
		return
	}
	r.electionsConfirmed.Inc()
}

func (r *Registry) ElectionAborted() {
	if r == nil {
		return
	}
	r.electionsAborted.Inc()
}

func (r *Registry) ElectionExpired() {
	if r == nil {
		return
	}
	r.electionsExpired.Inc()
}

func (r *Registry) VoteProcessed(code string) {
	if r == nil {
		return
	}
	r.votesProcessed.WithLabelValues(code).Inc()
}

func (r *Registry) BlockProcessed(result string) {
	if r == nil {
		return
	}
	r.blocksProcessed.WithLabelValues(result).Inc()
}

func (r *Registry) StapleCompleted() {
	if r == nil {
		return
	}
	r.staplesCompleted.Inc()
}

func (r *Registry) StapleFailed(reason string) {
	if r == nil {
		return
	}
	r.staplesFailed.WithLabelValues(reason).Inc()
}

func (r *Registry) GapBootstrapTriggered() {
	if r == nil {
		return
	}
	r.gapBootstrapTriggered.Inc()
}

func (r *Registry) SetPeersConnected(n int) {
	if r == nil {
		return
	}
	r.peersConnected.Set(float64(n))
}

func (r *Registry) SetRepsOnline(n int) {
	if r == nil {
		return
	}
	r.repsOnline.Set(float64(n))
}

func (r *Registry) SetOnlineWeight(weight float64) {
	if r == nil {
		return
	}
	r.onlineWeight.Set(weight)
}
