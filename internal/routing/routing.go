// Package routing maps complexity tiers to concrete models per routing
// profile and computes cost estimates against the premium baseline.
package routing

import (
	"fmt"

	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/models"
)

// Profile names the client-selectable routing tables.
type Profile string

const (
	ProfileFree    Profile = "free"
	ProfileEco     Profile = "eco"
	ProfileAuto    Profile = "auto"
	ProfilePremium Profile = "premium"
)

// IsProfile reports whether a resolved model name is actually a routing
// profile. Explicit "agentic" is not a profile: the agentic sub-table of
// auto activates only via the classifier's agentic score.
func IsProfile(name string) (Profile, bool) {
	switch Profile(name) {
	case ProfileFree, ProfileEco, ProfileAuto, ProfilePremium:
		return Profile(name), true
	}
	return "", false
}

// Route holds the primary model and its ordered fallbacks for one tier.
type Route struct {
	Primary  string   `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// Table maps each tier to its route.
type Table map[classifier.Tier]Route

// Tables bundles the per-profile tier tables. Agentic is the implicit
// sub-table of auto, used when the classifier's agentic score crosses the
// threshold.
type Tables struct {
	Eco     Table
	Auto    Table
	Agentic Table
	Premium Table
}

// ForProfile picks the tier table for a profile, switching to the agentic
// sub-table when profile is auto and the agentic score qualifies.
func (t Tables) ForProfile(p Profile, agenticScore float64) Table {
	switch p {
	case ProfileEco:
		return t.Eco
	case ProfilePremium:
		return t.Premium
	default:
		if agenticScore >= 0.5 {
			return t.Agentic
		}
		return t.Auto
	}
}

// DefaultTables returns the shipped tier tables over the default registry.
func DefaultTables() Tables {
	return Tables{
		Eco: Table{
			classifier.Simple:    {Primary: "openai/gpt-4o-mini", Fallback: []string{"deepseek/deepseek-chat", "google/gemini-2.5-flash"}},
			classifier.Medium:    {Primary: "deepseek/deepseek-chat", Fallback: []string{"openai/gpt-4o-mini", "google/gemini-2.5-flash"}},
			classifier.Complex:   {Primary: "google/gemini-2.5-flash", Fallback: []string{"anthropic/claude-haiku-3.5", "openai/gpt-4o"}},
			classifier.Reasoning: {Primary: "deepseek/deepseek-r1", Fallback: []string{"openai/o4-mini", "google/gemini-2.5-pro"}},
		},
		Auto: Table{
			classifier.Simple:    {Primary: "openai/gpt-4o-mini", Fallback: []string{"google/gemini-2.5-flash", "deepseek/deepseek-chat"}},
			classifier.Medium:    {Primary: "google/gemini-2.5-flash", Fallback: []string{"openai/gpt-4o-mini", "anthropic/claude-haiku-3.5"}},
			classifier.Complex:   {Primary: "anthropic/claude-sonnet-4", Fallback: []string{"openai/gpt-4o", "google/gemini-2.5-pro"}},
			classifier.Reasoning: {Primary: "openai/o4-mini", Fallback: []string{"deepseek/deepseek-r1", "google/gemini-2.5-pro", "anthropic/claude-opus-4"}},
		},
		Agentic: Table{
			classifier.Simple:    {Primary: "openai/gpt-4o", Fallback: []string{"anthropic/claude-sonnet-4", "google/gemini-2.5-flash"}},
			classifier.Medium:    {Primary: "anthropic/claude-sonnet-4", Fallback: []string{"openai/gpt-4o", "google/gemini-2.5-pro"}},
			classifier.Complex:   {Primary: "anthropic/claude-sonnet-4", Fallback: []string{"anthropic/claude-opus-4", "openai/gpt-4o"}},
			classifier.Reasoning: {Primary: "anthropic/claude-opus-4", Fallback: []string{"anthropic/claude-sonnet-4", "openai/o4-mini"}},
		},
		Premium: Table{
			classifier.Simple:    {Primary: "anthropic/claude-sonnet-4", Fallback: []string{"openai/gpt-4o", "google/gemini-2.5-pro"}},
			classifier.Medium:    {Primary: "anthropic/claude-sonnet-4", Fallback: []string{"google/gemini-2.5-pro", "openai/gpt-4o"}},
			classifier.Complex:   {Primary: "anthropic/claude-opus-4", Fallback: []string{"anthropic/claude-sonnet-4", "google/gemini-2.5-pro"}},
			classifier.Reasoning: {Primary: "anthropic/claude-opus-4", Fallback: []string{"openai/o4-mini", "google/gemini-2.5-pro"}},
		},
	}
}

// Decision is the routing outcome reported to observers and the usage log.
type Decision struct {
	Model        string          `json:"model"`
	Tier         classifier.Tier `json:"tier"`
	Confidence   float64         `json:"confidence"`
	Method       string          `json:"method"` // "rules" or "llm"
	Reasoning    string          `json:"reasoning"`
	EstimatedUSD float64         `json:"estimated_usd"`
	BaselineUSD  float64         `json:"baseline_usd"`
	Savings      float64         `json:"savings"` // max(0,(baseline-cost)/baseline), 0 under premium

	// AgenticScore is the effective score used for table selection; fallback
	// chains must be built from the same table that picked the primary.
	AgenticScore float64 `json:"agentic_score,omitempty"`
}

// EstimateCost computes the USD estimate for a model given input tokens and
// the max output allowance. Unknown models estimate to 0.
func EstimateCost(reg *models.Registry, modelID string, inTokens, maxOut int) float64 {
	m, ok := reg.Get(modelID)
	if !ok {
		return 0
	}
	return (float64(inTokens)*m.InputPer1M + float64(maxOut)*m.OutputPer1M) / 1e6
}

// SelectModel picks the primary model for a tier and fills in the cost and
// savings fields of the decision.
func SelectModel(reg *models.Registry, table Table, tier classifier.Tier, confidence float64, method, reasoning string, inTokens, maxOut int, profile Profile) (Decision, error) {
	route, ok := table[tier]
	if !ok || route.Primary == "" {
		return Decision{}, fmt.Errorf("no route for tier %s", tier)
	}

	cost := EstimateCost(reg, route.Primary, inTokens, maxOut)
	baseline := EstimateCost(reg, models.PremiumReferenceID, inTokens, maxOut)

	savings := 0.0
	if profile != ProfilePremium && baseline > 0 {
		savings = (baseline - cost) / baseline
		if savings < 0 {
			savings = 0
		}
	}

	return Decision{
		Model:        route.Primary,
		Tier:         tier,
		Confidence:   confidence,
		Method:       method,
		Reasoning:    reasoning,
		EstimatedUSD: cost,
		BaselineUSD:  baseline,
		Savings:      savings,
	}, nil
}

// FallbackChain returns [primary, fallbacks...] in declared order.
func FallbackChain(table Table, tier classifier.Tier) []string {
	route, ok := table[tier]
	if !ok {
		return nil
	}
	chain := make([]string, 0, 1+len(route.Fallback))
	if route.Primary != "" {
		chain = append(chain, route.Primary)
	}
	chain = append(chain, route.Fallback...)
	return chain
}

// FallbackChainFiltered drops models whose declared context window is below
// 1.1x the estimated total tokens. If the filter empties the chain, the
// unfiltered chain is returned so a too-large request still gets a best
// effort rather than an immediate failure.
func FallbackChainFiltered(reg *models.Registry, table Table, tier classifier.Tier, estTotalTokens int) []string {
	chain := FallbackChain(table, tier)
	need := int(float64(estTotalTokens) * 1.1)
	var filtered []string
	for _, id := range chain {
		if cw := reg.ContextWindow(id); cw >= need {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == 0 {
		return chain
	}
	return filtered
}
