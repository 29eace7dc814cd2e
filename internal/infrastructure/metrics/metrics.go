package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spreadwatch/internal/application/port"
)

// Set holds the service's Prometheus collectors and implements the
// scheduler's observer port.
type Set struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	batchPairs    *prometheus.CounterVec
	signals       *prometheus.CounterVec
	quoteGaps     prometheus.Counter
	openPositions prometheus.Gauge
	queueDepth    prometheus.Gauge
}

func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadwatch",
			Name:      "poll_cycles_total",
			Help:      "Polling cycles run, by cadence bucket.",
		}, []string{"cadence"}),
		batchPairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadwatch",
			Name:      "batch_pairs_total",
			Help:      "Instrument pairs fetched, by cadence bucket.",
		}, []string{"cadence"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spreadwatch",
			Name:      "signals_total",
			Help:      "Signals emitted, by action.",
		}, []string{"action"}),
		quoteGaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spreadwatch",
			Name:      "quote_gaps_total",
			Help:      "Pairs skipped because a leg had no usable price.",
		}),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spreadwatch",
			Name:      "open_positions",
			Help:      "Positions currently tracked by the spread engine.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "spreadwatch",
			Name:      "signal_queue_depth",
			Help:      "Signals waiting for delivery.",
		}),
	}
}

func (s *Set) CycleRan(cadence int) {
	s.cycles.WithLabelValues(strconv.Itoa(cadence)).Inc()
}

func (s *Set) BatchFetched(cadence, pairs int) {
	s.batchPairs.WithLabelValues(strconv.Itoa(cadence)).Add(float64(pairs))
}

func (s *Set) SignalEmitted(action string) {
	s.signals.WithLabelValues(action).Inc()
}

func (s *Set) QuoteGap() {
	s.quoteGaps.Inc()
}

func (s *Set) OpenPositions(n int) {
	s.openPositions.Set(float64(n))
}

func (s *Set) QueueDepth(n int) {
	s.queueDepth.Set(float64(n))
}

// Handler exposes the registry for a /metrics endpoint.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

var _ port.Observer = (*Set)(nil)
