package metrics

import (
	"testing"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.reg == nil {
		t.Fatal("expected non-nil prometheus registry")
	}
	if r.RequestsTotal == nil || r.RequestLatency == nil || r.CostUSD == nil {
		t.Fatal("core instruments must be initialized")
	}
	if r.PaymentsTotal == nil || r.BalanceUSD == nil || r.ClassifierTiers == nil {
		t.Fatal("payment and routing instruments must be initialized")
	}
}

func TestHandlerNonNil(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Fatal("expected non-nil http.Handler from Handler()")
	}
}

func TestMetricsCanBeCollected(t *testing.T) {
	r := New()

	r.RequestsTotal.WithLabelValues("auto", "openai/gpt-4o-mini", "SIMPLE", "200").Inc()
	r.RequestLatency.WithLabelValues("auto", "openai/gpt-4o-mini").Observe(150.0)
	r.CostUSD.WithLabelValues("openai/gpt-4o-mini").Add(0.001)
	r.SavingsUSD.Add(0.009)
	r.CacheHits.WithLabelValues("hit").Inc()
	r.DedupCollapsed.Inc()
	r.PaymentsTotal.WithLabelValues("settled").Inc()
	r.FallbackDepth.Observe(2)
	r.BalanceUSD.Set(4.2)
	r.ClassifierTiers.WithLabelValues("SIMPLE", "rules").Inc()
	r.RateLimited.Inc()

	mfs, err := r.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	want := []string{
		"blockrun_requests_total",
		"blockrun_request_latency_ms",
		"blockrun_cost_usd_total",
		"blockrun_savings_usd_total",
		"blockrun_response_cache_total",
		"blockrun_dedup_collapsed_total",
		"blockrun_payments_total",
		"blockrun_fallback_attempts",
		"blockrun_wallet_balance_usd",
		"blockrun_classifier_tiers_total",
		"blockrun_inbound_rate_limited_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected metric %q in gathered metrics", name)
		}
	}
}

func TestMultipleRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.RequestsTotal.WithLabelValues("auto", "openai/gpt-4o", "MEDIUM", "200").Inc()

	mfs, err := r2.reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil && m.GetCounter().GetValue() > 0 {
				t.Error("r2 should not have any non-zero counters")
			}
		}
	}
	_ = r1
}
