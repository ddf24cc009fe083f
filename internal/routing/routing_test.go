package routing

import (
	"testing"

	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/models"
)

func TestSelectModelPicksPrimary(t *testing.T) {
	reg := models.Default()
	tables := DefaultTables()

	for _, tier := range []classifier.Tier{classifier.Simple, classifier.Medium, classifier.Complex, classifier.Reasoning} {
		for name, table := range map[string]Table{"eco": tables.Eco, "auto": tables.Auto, "agentic": tables.Agentic, "premium": tables.Premium} {
			d, err := SelectModel(reg, table, tier, 0.9, "rules", "", 1000, 500, ProfileAuto)
			if err != nil {
				t.Fatalf("%s/%s: %v", name, tier, err)
			}
			if d.Model != table[tier].Primary {
				t.Errorf("%s/%s: selected %s, want primary %s", name, tier, d.Model, table[tier].Primary)
			}
		}
	}
}

func TestSavingsBounds(t *testing.T) {
	reg := models.Default()
	tables := DefaultTables()

	// Cheap model under auto: meaningful savings against the opus baseline.
	d, err := SelectModel(reg, tables.Auto, classifier.Simple, 0.9, "rules", "", 10000, 40, ProfileAuto)
	if err != nil {
		t.Fatal(err)
	}
	if d.Savings <= 0.5 || d.Savings > 1 {
		t.Fatalf("expected savings in (0.5,1] for gpt-4o-mini vs opus, got %.3f", d.Savings)
	}

	// Premium profile always reports zero savings.
	p, err := SelectModel(reg, tables.Premium, classifier.Complex, 0.9, "rules", "", 10000, 40, ProfilePremium)
	if err != nil {
		t.Fatal(err)
	}
	if p.Savings != 0 {
		t.Fatalf("premium profile savings must be 0, got %.3f", p.Savings)
	}

	// Selecting the baseline itself yields zero savings, never negative.
	b, err := SelectModel(reg, tables.Premium, classifier.Complex, 0.9, "rules", "", 10000, 40, ProfileAuto)
	if err != nil {
		t.Fatal(err)
	}
	if b.Savings != 0 {
		t.Fatalf("baseline-priced selection should have 0 savings, got %.3f", b.Savings)
	}
}

func TestEstimateCost(t *testing.T) {
	reg := models.Default()
	// gpt-4o-mini: 0.15 in / 0.60 out per 1M.
	got := EstimateCost(reg, "openai/gpt-4o-mini", 1_000_000, 1_000_000)
	want := 0.15 + 0.60
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("EstimateCost = %f, want %f", got, want)
	}
	if EstimateCost(reg, "unknown/model", 1000, 1000) != 0 {
		t.Fatal("unknown model should estimate to 0")
	}
}

func TestFallbackChainOrder(t *testing.T) {
	tables := DefaultTables()
	chain := FallbackChain(tables.Auto, classifier.Reasoning)
	route := tables.Auto[classifier.Reasoning]
	if len(chain) != 1+len(route.Fallback) {
		t.Fatalf("chain length %d, want %d", len(chain), 1+len(route.Fallback))
	}
	if chain[0] != route.Primary {
		t.Fatalf("chain[0] = %s, want primary %s", chain[0], route.Primary)
	}
	for i, id := range route.Fallback {
		if chain[i+1] != id {
			t.Fatalf("chain[%d] = %s, want %s", i+1, chain[i+1], id)
		}
	}
}

func TestFallbackChainFilteredByContext(t *testing.T) {
	reg := models.Default()
	tables := DefaultTables()

	// 100k estimated tokens * 1.1 = 110k: filters out 65k-context deepseek
	// models from the eco REASONING chain but keeps the 200k/1M ones.
	chain := FallbackChainFiltered(reg, tables.Eco, classifier.Reasoning, 100_000)
	for _, id := range chain {
		if cw := reg.ContextWindow(id); cw < 110_000 {
			t.Errorf("model %s (ctx %d) should have been filtered", id, cw)
		}
	}
	if len(chain) == 0 {
		t.Fatal("filter should not empty the chain for 100k tokens")
	}

	// Absurdly large request: nothing fits, so the unfiltered chain comes
	// back instead of an empty list.
	huge := FallbackChainFiltered(reg, tables.Eco, classifier.Reasoning, 10_000_000)
	want := FallbackChain(tables.Eco, classifier.Reasoning)
	if len(huge) != len(want) {
		t.Fatalf("oversized request should degrade to unfiltered chain, got %v", huge)
	}
}

func TestForProfileAgenticSwitch(t *testing.T) {
	tables := DefaultTables()

	if got := tables.ForProfile(ProfileAuto, 0.6); got[classifier.Medium].Primary != tables.Agentic[classifier.Medium].Primary {
		t.Fatal("auto profile with agentic score >= 0.5 should use the agentic sub-table")
	}
	if got := tables.ForProfile(ProfileAuto, 0.4); got[classifier.Medium].Primary != tables.Auto[classifier.Medium].Primary {
		t.Fatal("auto profile with low agentic score should use the auto table")
	}
	if got := tables.ForProfile(ProfilePremium, 0.9); got[classifier.Medium].Primary != tables.Premium[classifier.Medium].Primary {
		t.Fatal("explicit premium profile must ignore the agentic score")
	}
}

func TestIsProfile(t *testing.T) {
	for _, name := range []string{"free", "eco", "auto", "premium"} {
		if _, ok := IsProfile(name); !ok {
			t.Errorf("%q should be a profile", name)
		}
	}
	// Explicit agentic is not a client-selectable profile.
	if _, ok := IsProfile("agentic"); ok {
		t.Error("agentic must not be a client-selectable profile")
	}
	if _, ok := IsProfile("openai/gpt-4o"); ok {
		t.Error("model ids are not profiles")
	}
}
