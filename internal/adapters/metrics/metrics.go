// Package metrics exposes engine counters and gauges via Prometheus. All
// methods are nil-safe so callers never need to guard on whether metrics are
// enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the engine's Prometheus collectors.
type Set struct {
	bracketsOpened prometheus.Counter
	bracketsExited *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	passErrors     prometheus.Counter
	openBrackets   prometheus.Gauge
	equity         prometheus.Gauge
}

// New registers the engine collectors on a fresh registry and returns the set
// together with an http.Handler serving the scrape endpoint.
func New() (*Set, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	s := &Set{
		bracketsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "bracketbot_brackets_opened_total",
			Help: "Number of brackets admitted and opened.",
		}),
		bracketsExited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bracketbot_brackets_exited_total",
			Help: "Number of brackets closed, by exit reason and direction.",
		}, []string{"reason", "direction"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bracketbot_proposals_rejected_total",
			Help: "Number of proposals rejected at admission, by cause.",
		}, []string{"cause"}),
		passErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bracketbot_supervision_errors_total",
			Help: "Number of errors encountered during supervision passes.",
		}),
		openBrackets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bracketbot_open_brackets",
			Help: "Number of currently open brackets.",
		}),
		equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bracketbot_equity",
			Help: "Last computed account equity in the cash asset.",
		}),
	}
	return s, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// BracketOpened increments the opened-brackets counter.
func (s *Set) BracketOpened() {
	if s == nil {
		return
	}
	s.bracketsOpened.Inc()
}

// BracketExited records a closed bracket with its exit reason and direction.
func (s *Set) BracketExited(reason, direction string) {
	if s == nil {
		return
	}
	s.bracketsExited.WithLabelValues(reason, direction).Inc()
}

// ProposalRejected records an admission rejection by cause.
func (s *Set) ProposalRejected(cause string) {
	if s == nil {
		return
	}
	s.rejections.WithLabelValues(cause).Inc()
}

// PassError increments the supervision error counter.
func (s *Set) PassError() {
	if s == nil {
		return
	}
	s.passErrors.Inc()
}

// SetOpenBrackets updates the open-bracket gauge.
func (s *Set) SetOpenBrackets(n int) {
	if s == nil {
		return
	}
	s.openBrackets.Set(float64(n))
}

// SetEquity updates the equity gauge.
func (s *Set) SetEquity(v float64) {
	if s == nil {
		return
	}
	s.equity.Set(v)
}
