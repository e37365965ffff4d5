package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	ledgerImbalanceCounter *prometheus.CounterVec
	ledgerOpCounter        *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	joinCounter            *prometheus.CounterVec
	settlementCounter      *prometheus.CounterVec
	oracleReportCounter    *prometheus.CounterVec
	pendingSettlementGauge prometheus.Gauge
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times a stored balance or match escrow diverged from the ledger",
		}, []string{"check"})

		ledgerOpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger transactions appended, by kind and outcome",
		}, []string{"kind", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		joinCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "match_join_attempts_total",
			Help: "Match join attempts by outcome",
		}, []string{"outcome"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "match_settlements_total",
			Help: "Settlement attempts by outcome",
		}, []string{"outcome"})

		oracleReportCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_reports_total",
			Help: "Result oracle deliveries by source and outcome",
		}, []string{"source", "outcome"})

		pendingSettlementGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "match_pending_settlements",
			Help: "Matches sitting in VERIFYING with a recorded verdict",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			ledgerOpCounter,
			idempotencyCounter,
			joinCounter,
			settlementCounter,
			oracleReportCounter,
			pendingSettlementGauge,
			workerRunCounter,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementLedgerOperation(kind, outcome string) {
	if ledgerOpCounter == nil {
		return
	}
	ledgerOpCounter.WithLabelValues(kind, outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementJoin(outcome string) {
	if joinCounter == nil {
		return
	}
	joinCounter.WithLabelValues(outcome).Inc()
}

func IncrementSettlement(outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(outcome).Inc()
}

func IncrementOracleReport(source, outcome string) {
	if oracleReportCounter == nil {
		return
	}
	oracleReportCounter.WithLabelValues(source, outcome).Inc()
}

func SetPendingSettlements(n int) {
	if pendingSettlementGauge == nil {
		return
	}
	pendingSettlementGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
