package farmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"

	"pkt.systems/farmd/internal/farm"
)

// farmMetrics implements farm.Metrics on a private Prometheus registry.
type farmMetrics struct {
	registry *prometheus.Registry

	submissionsAccepted *prometheus.CounterVec
	submissionsRejected *prometheus.CounterVec
	consumed            *prometheus.CounterVec
	consumptionFailures *prometheus.CounterVec
	collapses           prometheus.Counter
	sellingPhases       prometheus.Counter
}

func newFarmMetrics() *farmMetrics {
	m := &farmMetrics{
		registry: prometheus.NewRegistry(),
		submissionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmd_submissions_accepted_total",
			Help: "Resource submissions accepted into the ledger.",
		}, []string{"resource"}),
		submissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmd_submissions_rejected_total",
			Help: "Resource submissions rejected.",
		}, []string{"resource", "reason"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmd_resource_consumed_total",
			Help: "Units of each resource consumed by ticks.",
		}, []string{"resource"}),
		consumptionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmd_consumption_failures_total",
			Help: "Tick rounds where the demand exceeded the available balance.",
		}, []string{"resource"}),
		collapses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmd_collapses_total",
			Help: "Farm collapses caused by sustained starvation or thirst.",
		}),
		sellingPhases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmd_selling_phases_total",
			Help: "Selling phases entered after reaching the size cap.",
		}),
	}
	m.registry.MustRegister(
		m.submissionsAccepted,
		m.submissionsRejected,
		m.consumed,
		m.consumptionFailures,
		m.collapses,
		m.sellingPhases,
	)
	return m
}

// observeLedger registers gauges sampling the ledger state at scrape time.
func (m *farmMetrics) observeLedger(ledger *farm.Ledger) {
	gauge := func(name, help string, sample func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, sample)
	}
	m.registry.MustRegister(
		gauge("farmd_farm_size", "Current farm size.", func() float64 {
			return ledger.Snapshot().FarmSize
		}),
		gauge("farmd_consumption_coefficient", "Current consumption coefficient.", func() float64 {
			return ledger.Snapshot().ConsumptionCoefficient
		}),
		gauge("farmd_accumulated_food", "Food units currently banked.", func() float64 {
			return ledger.Snapshot().AccumulatedFood
		}),
		gauge("farmd_accumulated_water", "Water units currently banked.", func() float64 {
			return ledger.Snapshot().AccumulatedWater
		}),
		gauge("farmd_total_consumed", "Lifetime units consumed across both resources.", func() float64 {
			return ledger.Snapshot().TotalConsumed
		}),
	)
}

func (m *farmMetrics) SubmissionAccepted(kind farm.Kind, amount float64) {
	m.submissionsAccepted.WithLabelValues(string(kind)).Add(amount)
}

func (m *farmMetrics) SubmissionRejected(kind farm.Kind, reason string) {
	m.submissionsRejected.WithLabelValues(string(kind), reason).Inc()
}

func (m *farmMetrics) Consumed(kind farm.Kind, amount float64) {
	m.consumed.WithLabelValues(string(kind)).Add(amount)
}

func (m *farmMetrics) ConsumptionFailed(kind farm.Kind) {
	m.consumptionFailures.WithLabelValues(string(kind)).Inc()
}

func (m *farmMetrics) Collapsed() {
	m.collapses.Inc()
}

func (m *farmMetrics) SellingStarted() {
	m.sellingPhases.Inc()
}

func startMetricsServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("metrics.serve_error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}

func (m *farmMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
