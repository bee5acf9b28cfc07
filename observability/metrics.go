package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	liquidationOnce sync.Once
	liquidationReg  *LiquidationMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// handler activity of the daemon.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ripe",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LiquidationMetrics captures the liquidation engine's activity.
type LiquidationMetrics struct {
	calls      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	disposals  *prometheus.CounterVec
	auctions   prometheus.Counter
	repaid     *prometheus.CounterVec
	keeperFees prometheus.Counter
	unpaidFees prometheus.Counter
	depleted   *prometheus.CounterVec
}

// Liquidation returns the singleton metrics registry for the liquidation engine.
func Liquidation() *LiquidationMetrics {
	liquidationOnce.Do(func() {
		liquidationReg = &LiquidationMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "calls_total",
				Help:      "Count of liquidation and deleverage calls segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for liquidation and deleverage calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			disposals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "disposals_total",
				Help:      "Count of collateral disposals segmented by strategy.",
			}, []string{"strategy"}),
			auctions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "auctions_started_total",
				Help:      "Count of collateral auctions started by liquidations.",
			}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "repaid_usd_total",
				Help:      "USD debt repaid (18 decimals) segmented by operation.",
			}, []string{"operation"}),
			keeperFees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "keeper_fees_usd_total",
				Help:      "USD value (18 decimals) of keeper fees paid.",
			}),
			unpaidFees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "unpaid_fees_usd_total",
				Help:      "USD value (18 decimals) of liquidation fees added back to debt.",
			}),
			depleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "liquidation",
				Name:      "assets_depleted_total",
				Help:      "Count of assets fully depleted from a position segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			liquidationReg.calls,
			liquidationReg.latency,
			liquidationReg.disposals,
			liquidationReg.auctions,
			liquidationReg.repaid,
			liquidationReg.keeperFees,
			liquidationReg.unpaidFees,
			liquidationReg.depleted,
		)
	})
	return liquidationReg
}

// Observe records the execution metrics for a liquidation engine call.
func (m *LiquidationMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDisposals adds count disposals for the strategy.
func (m *LiquidationMetrics) RecordDisposals(strategy string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.disposals.WithLabelValues(strategy).Add(float64(count))
}

// RecordAuctions adds count started auctions.
func (m *LiquidationMetrics) RecordAuctions(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.auctions.Add(float64(count))
}

// RecordRepaid accumulates repaid USD for the operation.
func (m *LiquidationMetrics) RecordRepaid(operation string, usd *big.Int) {
	if m == nil {
		return
	}
	m.repaid.WithLabelValues(operation).Add(bigToFloat(usd))
}

// RecordFees accumulates keeper fees paid and unpaid fees added to debt.
func (m *LiquidationMetrics) RecordFees(keeperFee, unpaid *big.Int) {
	if m == nil {
		return
	}
	m.keeperFees.Add(bigToFloat(keeperFee))
	m.unpaidFees.Add(bigToFloat(unpaid))
}

// RecordDepleted increments the depletion counter for the asset.
func (m *LiquidationMetrics) RecordDepleted(asset string) {
	if m == nil {
		return
	}
	m.depleted.WithLabelValues(labelAsset(asset)).Inc()
}

// OracleMetrics wraps collectors tracking the price feed.
type OracleMetrics struct {
	updates   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
	rejected  *prometheus.CounterVec
}

// Oracle exposes the metrics registry for the price feed.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "oracle",
				Name:      "price_updates_total",
				Help:      "Count of accepted price updates per asset.",
			}, []string{"asset"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ripe",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the price served for each asset.",
			}, []string{"asset"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ripe",
				Subsystem: "oracle",
				Name:      "price_unavailable_total",
				Help:      "Count of price lookups rejected as missing or stale.",
			}, []string{"asset", "reason"}),
		}
		prometheus.MustRegister(oracleRegistry.updates, oracleRegistry.freshness, oracleRegistry.rejected)
	})
	return oracleRegistry
}

// RecordUpdate increments the accepted update counter for the asset.
func (m *OracleMetrics) RecordUpdate(asset string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordFreshness sets the age of the price served for the asset.
func (m *OracleMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelAsset(asset)).Set(age.Seconds())
}

// RecordRejected counts a lookup that could not be served.
func (m *OracleMetrics) RecordRejected(asset, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejected.WithLabelValues(labelAsset(asset), reason).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
