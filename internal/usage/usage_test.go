package usage

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogAndAggregate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	records := []Record{
		{Model: "openai/gpt-4o-mini", Tier: "SIMPLE", Profile: "auto", InputTokens: 100, OutputTokens: 50, CostUSD: 0.001, BaselineUSD: 0.01, SavingsUSD: 0.009, Status: 200},
		{Model: "openai/gpt-4o-mini", Tier: "SIMPLE", Profile: "auto", InputTokens: 200, OutputTokens: 80, CostUSD: 0.002, BaselineUSD: 0.02, SavingsUSD: 0.018, Cached: true, Status: 200},
		{Model: "anthropic/claude-sonnet-4", Tier: "COMPLEX", Profile: "auto", InputTokens: 500, OutputTokens: 300, CostUSD: 0.006, BaselineUSD: 0.03, SavingsUSD: 0.024, Deduped: true, Status: 200},
	}
	for _, r := range records {
		if err := s.LogRequest(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Aggregate(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Requests != 3 {
		t.Fatalf("requests = %d", sum.Requests)
	}
	if sum.InputTokens != 800 || sum.OutputTokens != 430 {
		t.Fatalf("tokens = %d/%d", sum.InputTokens, sum.OutputTokens)
	}
	if sum.CacheHits != 1 || sum.DedupHits != 1 {
		t.Fatalf("cache/dedup = %d/%d", sum.CacheHits, sum.DedupHits)
	}
	if sum.ByModel["openai/gpt-4o-mini"] != 2 {
		t.Fatalf("by model = %v", sum.ByModel)
	}
	if sum.ByTier["COMPLEX"] != 1 {
		t.Fatalf("by tier = %v", sum.ByTier)
	}
	if diff := sum.SavingsUSD - 0.051; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("savings = %f", sum.SavingsUSD)
	}
}

func TestAggregateWindow(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	old := Record{Model: "m", CreatedAt: time.Now().AddDate(0, 0, -10), Status: 200}
	fresh := Record{Model: "m", Status: 200}
	if err := s.LogRequest(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.LogRequest(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	week, err := s.Aggregate(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if week.Requests != 1 {
		t.Fatalf("7-day window = %d requests, want 1", week.Requests)
	}

	all, err := s.Aggregate(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if all.Requests != 2 {
		t.Fatalf("all-time = %d requests, want 2", all.Requests)
	}
}

func TestEmptyAggregate(t *testing.T) {
	s := openTest(t)
	sum, err := s.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Requests != 0 || sum.CostUSD != 0 {
		t.Fatalf("empty db summary = %+v", sum)
	}
}
