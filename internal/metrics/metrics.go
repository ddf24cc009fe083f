// Package metrics defines the proxy's Prometheus instruments on a private
// registry so tests never collide on the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	CostUSD         *prometheus.CounterVec
	SavingsUSD      prometheus.Counter
	CacheHits       *prometheus.CounterVec
	DedupCollapsed  prometheus.Counter
	PaymentsTotal   *prometheus.CounterVec
	FallbackDepth   prometheus.Histogram
	BalanceUSD      prometheus.Gauge
	ClassifierTiers *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_requests_total",
			Help: "Total chat requests routed through the proxy",
		}, []string{"profile", "model", "tier", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockrun_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"profile", "model"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_cost_usd_total",
			Help: "Estimated USD spend per model",
		}, []string{"model"}),
		SavingsUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrun_savings_usd_total",
			Help: "Estimated USD saved versus the premium baseline",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_response_cache_total",
			Help: "Response cache lookups by outcome",
		}, []string{"outcome"}),
		DedupCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrun_dedup_collapsed_total",
			Help: "Duplicate requests collapsed onto an in-flight origin",
		}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_payments_total",
			Help: "x402 payment attempts by outcome",
		}, []string{"outcome"}),
		FallbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockrun_fallback_attempts",
			Help:    "Upstream attempts per request before success or give-up",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		BalanceUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blockrun_wallet_balance_usd",
			Help: "Last observed wallet balance in USD",
		}),
		ClassifierTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_classifier_tiers_total",
			Help: "Prompt classifications by tier and method",
		}, []string{"tier", "method"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blockrun_inbound_rate_limited_total",
			Help: "Inbound requests rejected by the per-IP limiter",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.CostUSD, m.SavingsUSD,
		m.CacheHits, m.DedupCollapsed, m.PaymentsTotal, m.FallbackDepth,
		m.BalanceUSD, m.ClassifierTiers, m.RateLimited,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
