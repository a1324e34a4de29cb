// Package telemetry provides opt-in Prometheus metrics for the detector
// stack. It is safe to reference from hot paths: every public function is
// a no-op until Enable is called, and curvestack/bft drive it through
// plain function-valued hooks (curvestack.WithOverflowObserver,
// bft.WithDeadDetectorObserver) so the algorithm packages never import
// this one.
package telemetry

import (
	"math/bits"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var enabled atomic.Bool

var (
	curveStackOverflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "focustrigger_curvestack_overflows_total",
		Help: "Total number of curve stack pushes that dropped the oldest curve because the stack was full",
	})
	deadDetectorsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "focustrigger_bft_dead_detectors",
		Help: "Number of detectors a BFT manager has permanently marked dead",
	})
	triggersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "focustrigger_triggers_total",
		Help: "Total number of change-point triggers reported by any detector",
	})
	significanceHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "focustrigger_trigger_significance_std",
		Help:    "Distribution of trigger significance, in standard deviations",
		Buckets: []float64{3, 4, 5, 6, 8, 10, 15, 20},
	})
)

func init() {
	prometheus.MustRegister(curveStackOverflowsTotal, deadDetectorsGauge, triggersTotal, significanceHistogram)
}

// Enable turns telemetry on. If addr is non-empty, a dedicated HTTP
// server is started serving /metrics at addr; leave it empty if metrics
// are already exposed elsewhere and register promhttp yourself.
func Enable(addr string) {
	enabled.Store(true)
	if addr != "" {
		serveMetrics(addr)
	}
}

// Enabled reports whether telemetry is active.
func Enabled() bool { return enabled.Load() }

// ObserveOverflow records one curve stack drop-oldest event. Meant to be
// passed to curvestack.WithOverflowObserver.
func ObserveOverflow() {
	if !enabled.Load() {
		return
	}
	curveStackOverflowsTotal.Inc()
}

// ObserveDeadDetectors records the current sticky dead-detector bitmap.
// Meant to be passed to bft.WithDeadDetectorObserver.
func ObserveDeadDetectors(dead uint8) {
	if !enabled.Load() {
		return
	}
	deadDetectorsGauge.Set(float64(bits.OnesCount8(dead)))
}

// ObserveTrigger records one reported change-point, with its
// significance in standard deviations.
func ObserveTrigger(significanceStd float64) {
	if !enabled.Load() {
		return
	}
	triggersTotal.Inc()
	significanceHistogram.Observe(significanceStd)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
