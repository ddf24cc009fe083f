package classifier

import (
	"strings"
	"testing"
)

func TestSimpleQuestion(t *testing.T) {
	cfg := DefaultConfig()
	res := Classify("What is the capital of France?", "", 0, cfg)

	if res.Tier != Simple {
		t.Fatalf("expected SIMPLE, got %s (score %.3f, signals %v)", res.Tier, res.Score, res.Signals)
	}
	if res.Score >= 0 {
		t.Fatalf("expected negative score for trivial factual question, got %.3f", res.Score)
	}
}

func TestReasoningOverride(t *testing.T) {
	cfg := DefaultConfig()
	res := Classify("Prove step by step that sqrt(2) is irrational.", "", 0, cfg)

	if res.Tier != Reasoning {
		t.Fatalf("expected REASONING via direct marker override, got %s", res.Tier)
	}
	if res.Confidence < 0.85 {
		t.Fatalf("override confidence must be >= 0.85, got %.3f", res.Confidence)
	}
	if res.Ambiguous {
		t.Fatal("override result must not be ambiguous")
	}
	joined := strings.Join(res.Signals, " ")
	if !strings.Contains(joined, "reasoning") {
		t.Fatalf("expected a reasoning signal, got %v", res.Signals)
	}
}

func TestReasoningMarkersUserTextOnly(t *testing.T) {
	cfg := DefaultConfig()
	// Markers only in the system prompt must not trigger the override.
	sys := "Always prove your claims step by step with a rigorous derivation and proof."
	res := Classify("hi", sys, 0, cfg)
	if res.Tier == Reasoning {
		t.Fatalf("system-prompt markers must not force REASONING, got %s", res.Tier)
	}
}

func TestDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	prompt := "Design a distributed database schema, then implement the migration step by step. Output as JSON."
	first := Classify(prompt, "", 0, cfg)
	for i := 0; i < 10; i++ {
		again := Classify(prompt, "", 0, cfg)
		if again.Score != first.Score || again.Tier != first.Tier || again.Confidence != first.Confidence {
			t.Fatalf("classification not deterministic: %+v vs %+v", first, again)
		}
		if len(again.Signals) != len(first.Signals) {
			t.Fatalf("signal count varies: %v vs %v", first.Signals, again.Signals)
		}
	}
}

func TestEmptyPrompt(t *testing.T) {
	cfg := DefaultConfig()
	res := Classify("", "", 0, cfg)
	// Empty input hits the short-input bucket: negative score, SIMPLE.
	if res.Tier != Simple {
		t.Fatalf("empty prompt should map to SIMPLE, got %s", res.Tier)
	}
	if len(res.Signals) != 1 || res.Signals[0] != "short input" {
		t.Fatalf("unexpected signals for empty prompt: %v", res.Signals)
	}
}

func TestLongInputBucket(t *testing.T) {
	cfg := DefaultConfig()
	long := strings.Repeat("lorem ipsum dolor sit amet ", 2000) // well past ComplexTokenMin
	res := Classify(long, "", 0, cfg)
	joined := strings.Join(res.Signals, " ")
	if !strings.Contains(joined, "long input") {
		t.Fatalf("expected long-input signal, got %v", res.Signals)
	}
	if res.Score <= 0 {
		t.Fatalf("long input should push score positive, got %.3f", res.Score)
	}
}

func TestMultiStepPattern(t *testing.T) {
	cfg := DefaultConfig()
	for _, prompt := range []string{
		"First gather the requirements and then produce a design document.",
		"Step 1 is parsing, step 2 is validation.",
		"Here is the plan:\n1. parse\n2. validate\n3. emit",
	} {
		res := Classify(prompt, "", 0, cfg)
		if !containsSignal(res.Signals, "multi-step") {
			t.Errorf("expected multi-step signal for %q, got %v", prompt, res.Signals)
		}
	}
}

func TestAgenticSubScore(t *testing.T) {
	cfg := DefaultConfig()
	res := Classify(
		"Use the tool to read the file, run the command in the terminal, then verify the output and report back. Automate the whole workflow with the agent.",
		"", 0, cfg)
	if res.AgenticScore < 0.5 {
		t.Fatalf("expected agentic sub-score >= 0.5, got %.2f (signals %v)", res.AgenticScore, res.Signals)
	}

	plain := Classify("What is the capital of France?", "", 0, cfg)
	if plain.AgenticScore != 0 {
		t.Fatalf("plain question should have zero agentic score, got %.2f", plain.AgenticScore)
	}
}

func TestMultilingualReasoning(t *testing.T) {
	cfg := DefaultConfig()
	for _, prompt := range []string{
		"请证明根号2是无理数，一步一步推理。",          // zh: prove + step by step
		"Докажи пошагово, что корень из 2 иррационален.", // ru
		"Beweise Schritt für Schritt, dass Wurzel 2 irrational ist.", // de
	} {
		res := Classify(prompt, "", 0, cfg)
		if res.Tier != Reasoning {
			t.Errorf("expected REASONING for %q, got %s (signals %v)", prompt, res.Tier, res.Signals)
		}
	}
}

func TestTierBoundaries(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		score float64
		want  Tier
	}{
		{-0.5, Simple},
		{-0.001, Simple},
		{0.0, Medium},
		{0.15, Medium},
		{0.3, Complex},
		{0.45, Complex},
		{0.5, Reasoning},
		{0.9, Reasoning},
	}
	for _, c := range cases {
		tier, dist := mapTier(c.score, cfg)
		if tier != c.want {
			t.Errorf("mapTier(%.3f) = %s, want %s", c.score, tier, c.want)
		}
		if dist < 0 {
			t.Errorf("mapTier(%.3f) distance negative: %f", c.score, dist)
		}
	}
}

func TestAmbiguousNearBoundary(t *testing.T) {
	cfg := DefaultConfig()
	// A score right on a boundary gives distance 0, sigmoid(0)=0.5 < 0.7.
	_, dist := mapTier(cfg.Boundary2, cfg)
	if conf := sigmoid(cfg.SigmoidK * dist); conf >= cfg.ConfidenceThreshold {
		t.Fatalf("boundary score should be low-confidence, got %.3f", conf)
	}
}

func TestTierOrder(t *testing.T) {
	if !(Simple < Medium && Medium < Complex && Complex < Reasoning) {
		t.Fatal("tier total order broken")
	}
	if ParseTier("reasoning") != Reasoning || ParseTier("bogus") != Medium {
		t.Fatal("ParseTier mapping broken")
	}
}

func containsSignal(signals []string, substr string) bool {
	for _, s := range signals {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
