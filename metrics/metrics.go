// Package metrics exposes the proxy's runtime counters to Prometheus:
// current chain, outage durations, submission outcomes, and tracked
// capacity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocnet/arbiter/chain"
)

// Registry groups every metric this module publishes, registered
// against a dedicated prometheus.Registry rather than the global
// default so tests can spin up isolated instances.
type Registry struct {
	reg *prometheus.Registry

	CurrentChain   *prometheus.GaugeVec
	OutageSeconds  *prometheus.GaugeVec
	Submissions    *prometheus.CounterVec
	CapacityTiB    prometheus.Gauge
	RequeueTotal   *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.CurrentChain = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pocarbiter",
		Name:      "current_chain",
		Help:      "1 for the chain currently selected as current, 0 otherwise.",
	}, []string{"chain"})

	r.OutageSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pocarbiter",
		Name:      "outage_seconds",
		Help:      "Seconds the chain's poller has been failing, 0 when healthy.",
	}, []string{"chain"})

	r.Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pocarbiter",
		Name:      "submissions_total",
		Help:      "Nonce submissions by chain and outcome.",
	}, []string{"chain", "outcome"})

	r.CapacityTiB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pocarbiter",
		Name:      "capacity_tib",
		Help:      "Total tracked miner capacity in TiB.",
	})

	r.RequeueTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pocarbiter",
		Name:      "requeue_total",
		Help:      "Times a chain's queued block was requeued after interruption.",
	}, []string{"chain"})

	r.reg.MustRegister(r.CurrentChain, r.OutageSeconds, r.Submissions, r.CapacityTiB, r.RequeueTotal)
	return r
}

// Handler serves the registry's metrics in the Prometheus exposition
// format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetCurrent marks chain idx current and every other enumerated chain
// not-current, so the gauge reflects exactly one selected chain. A nil
// Registry is a no-op, so callers that don't care about metrics (tests,
// mostly) can pass nil rather than construct one.
func (r *Registry) SetCurrent(all []struct {
	Index chain.Index
	Desc  chain.Descriptor
}, current chain.Index) {
	if r == nil {
		return
	}
	for _, entry := range all {
		v := 0.0
		if entry.Index == current {
			v = 1
		}
		r.CurrentChain.WithLabelValues(entry.Desc.Name).Set(v)
	}
}

func (r *Registry) ObserveOutage(chainName string, seconds float64) {
	if r == nil {
		return
	}
	r.OutageSeconds.WithLabelValues(chainName).Set(seconds)
}

func (r *Registry) ObserveSubmission(chainName, outcome string) {
	if r == nil {
		return
	}
	r.Submissions.WithLabelValues(chainName, outcome).Inc()
}

func (r *Registry) ObserveCapacity(tib float64) {
	if r == nil {
		return
	}
	r.CapacityTiB.Set(tib)
}

func (r *Registry) ObserveRequeue(chainName string) {
	if r == nil {
		return
	}
	r.RequeueTotal.WithLabelValues(chainName).Inc()
}
