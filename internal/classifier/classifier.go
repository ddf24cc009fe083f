// Package classifier scores chat prompts on fifteen weighted dimensions and
// maps the aggregate to a complexity tier with a calibrated confidence.
//
// Classification is total and deterministic: the same prompt always yields
// the same score, tier, signals, and bit-exact confidence. Empty prompts
// score 0 and land in the SIMPLE tier under default boundaries.
package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Tier is a complexity bucket. The total order SIMPLE < MEDIUM < COMPLEX <
// REASONING is used for minimum-tier upgrades.
type Tier int

const (
	Simple Tier = iota
	Medium
	Complex
	Reasoning
)

func (t Tier) String() string {
	switch t {
	case Simple:
		return "SIMPLE"
	case Medium:
		return "MEDIUM"
	case Complex:
		return "COMPLEX"
	case Reasoning:
		return "REASONING"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// ParseTier maps a config string to a Tier. Unknown values return Medium,
// which is also the ambiguous default.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SIMPLE":
		return Simple
	case "COMPLEX":
		return Complex
	case "REASONING":
		return Reasoning
	default:
		return Medium
	}
}

// Weights holds the per-dimension contribution to the aggregate score. The
// defaults sum to ≈1.0.
type Weights struct {
	TokenCount          float64 `yaml:"token_count"`
	CodePresence        float64 `yaml:"code_presence"`
	ReasoningMarkers    float64 `yaml:"reasoning_markers"`
	TechnicalTerms      float64 `yaml:"technical_terms"`
	CreativeMarkers     float64 `yaml:"creative_markers"`
	SimpleIndicators    float64 `yaml:"simple_indicators"`
	MultiStepPatterns   float64 `yaml:"multi_step_patterns"`
	QuestionComplexity  float64 `yaml:"question_complexity"`
	ImperativeVerbs     float64 `yaml:"imperative_verbs"`
	ConstraintCount     float64 `yaml:"constraint_count"`
	OutputFormat        float64 `yaml:"output_format"`
	ReferenceComplexity float64 `yaml:"reference_complexity"`
	NegationComplexity  float64 `yaml:"negation_complexity"`
	DomainSpecificity   float64 `yaml:"domain_specificity"`
	AgenticTask         float64 `yaml:"agentic_task"`
}

// Config controls scoring, tier boundaries, and confidence calibration.
type Config struct {
	Weights Weights

	// Token-count bucket thresholds.
	SimpleTokenMax  int // below this the tokenCount dimension scores -1
	ComplexTokenMin int // above this it scores +1

	// Tier boundaries b1 < b2 < b3 on the weighted sum.
	Boundary1 float64
	Boundary2 float64
	Boundary3 float64

	// Confidence calibration: c = sigmoid(SigmoidK * distance-to-boundary).
	SigmoidK            float64
	ConfidenceThreshold float64
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			TokenCount:          0.08,
			CodePresence:        0.15,
			ReasoningMarkers:    0.18,
			TechnicalTerms:      0.10,
			CreativeMarkers:     0.05,
			SimpleIndicators:    0.02,
			MultiStepPatterns:   0.12,
			QuestionComplexity:  0.05,
			ImperativeVerbs:     0.03,
			ConstraintCount:     0.04,
			OutputFormat:        0.03,
			ReferenceComplexity: 0.02,
			NegationComplexity:  0.01,
			DomainSpecificity:   0.02,
			AgenticTask:         0.04,
		},
		SimpleTokenMax:      50,
		ComplexTokenMin:     800,
		Boundary1:           0.0,
		Boundary2:           0.3,
		Boundary3:           0.5,
		SigmoidK:            12,
		ConfidenceThreshold: 0.7,
	}
}

// Result is the classifier output. When Ambiguous is true the confidence
// fell below the threshold and the caller applies its ambiguous-default
// tier; Tier still carries the raw boundary mapping.
type Result struct {
	Score        float64
	Tier         Tier
	Ambiguous    bool
	Confidence   float64
	Signals      []string
	AgenticScore float64
}

var multiStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`(?i)\bstep\s+\d`),
	regexp.MustCompile(`(?m)^\s*\d+[.)]\s`),
}

// Classify scores the prompt. systemPrompt may be empty. estInputTokens is
// the caller's ceil(bytes/4) estimate over the combined text; pass 0 to let
// the classifier derive it.
func Classify(prompt, systemPrompt string, estInputTokens int, cfg Config) Result {
	combined := strings.ToLower(prompt)
	if systemPrompt != "" {
		combined = strings.ToLower(systemPrompt) + "\n" + combined
	}
	userText := strings.ToLower(prompt)

	if estInputTokens <= 0 {
		estInputTokens = (len(prompt) + len(systemPrompt) + 3) / 4
	}

	w := cfg.Weights
	var score float64
	var signals []string

	add := func(dim float64, weight float64, label string) {
		if dim == 0 {
			return
		}
		score += dim * weight
		signals = append(signals, label)
	}

	// tokenCount: length bucket.
	switch {
	case estInputTokens < cfg.SimpleTokenMax:
		add(-1, w.TokenCount, "short input")
	case estInputTokens > cfg.ComplexTokenMin:
		add(1, w.TokenCount, "long input")
	}

	if hits, found := matchKeywords(combined, codeKeywords); hits > 0 {
		v := 0.5
		if hits >= 3 {
			v = 1
		}
		add(v, w.CodePresence, "code ("+found+")")
	}

	// Reasoning markers are matched on the user text only so a verbose
	// system prompt cannot force the REASONING tier.
	reasoningHits, reasoningFound := matchKeywords(userText, reasoningKeywords)
	if reasoningHits > 0 {
		v := 0.7
		if reasoningHits >= 2 {
			v = 1
		}
		add(v, w.ReasoningMarkers, "reasoning ("+reasoningFound+")")
	}

	if hits, found := matchKeywords(combined, technicalKeywords); hits >= 2 {
		v := 0.5
		if hits >= 4 {
			v = 1
		}
		add(v, w.TechnicalTerms, "technical ("+found+")")
	}

	if hits, found := matchKeywords(combined, creativeKeywords); hits > 0 {
		v := 0.5
		if hits >= 2 {
			v = 0.7
		}
		add(v, w.CreativeMarkers, "creative ("+found+")")
	}

	if hits, found := matchKeywords(combined, simpleKeywords); hits > 0 {
		add(-1, w.SimpleIndicators, "simple ("+found+")")
	}

	for _, re := range multiStepPatterns {
		if re.MatchString(combined) {
			add(0.5, w.MultiStepPatterns, "multi-step")
			break
		}
	}

	if strings.Count(combined, "?") > 3 {
		add(0.5, w.QuestionComplexity, "many questions")
	}

	if hits, found := matchKeywords(combined, imperativeKeywords); hits > 0 {
		v := 0.3
		if hits >= 3 {
			v = 0.5
		}
		add(v, w.ImperativeVerbs, "imperative ("+found+")")
	}

	if hits, found := matchKeywords(combined, constraintKeywords); hits > 0 {
		v := 0.3
		if hits >= 3 {
			v = 0.7
		}
		add(v, w.ConstraintCount, "constraints ("+found+")")
	}

	if hits, found := matchKeywords(combined, outputFormatKeywords); hits > 0 {
		v := 0.4
		if hits >= 2 {
			v = 0.7
		}
		add(v, w.OutputFormat, "output format ("+found+")")
	}

	if hits, found := matchKeywords(combined, referenceKeywords); hits > 0 {
		v := 0.3
		if hits >= 2 {
			v = 0.5
		}
		add(v, w.ReferenceComplexity, "references ("+found+")")
	}

	if hits, found := matchKeywords(combined, negationKeywords); hits >= 2 {
		v := 0.3
		if hits >= 3 {
			v = 0.5
		}
		add(v, w.NegationComplexity, "negations ("+found+")")
	}

	if hits, found := matchKeywords(combined, domainKeywords); hits > 0 {
		v := 0.5
		if hits >= 2 {
			v = 0.8
		}
		add(v, w.DomainSpecificity, "domain ("+found+")")
	}

	var agentic float64
	if hits, found := matchKeywords(combined, agenticKeywords); hits > 0 {
		agentic = 0.2
		switch {
		case hits >= 4:
			agentic = 1
		case hits >= 3:
			agentic = 0.6
		}
		add(agentic, w.AgenticTask, "agentic ("+found+")")
	}

	tier, dist := mapTier(score, cfg)
	conf := sigmoid(cfg.SigmoidK * dist)

	res := Result{
		Score:        score,
		Tier:         tier,
		Confidence:   conf,
		Signals:      signals,
		AgenticScore: agentic,
	}

	// Direct REASONING override: two or more reasoning markers in the user
	// text force the top tier regardless of the aggregate.
	if reasoningHits >= 2 {
		res.Tier = Reasoning
		res.Confidence = math.Max(sigmoid(cfg.SigmoidK*math.Max(score, 0.3)), 0.85)
		res.Ambiguous = false
		return res
	}

	if conf < cfg.ConfidenceThreshold {
		res.Ambiguous = true
	}
	return res
}

// mapTier maps the weighted sum to a tier and the distance to the nearest
// boundary used for confidence calibration.
func mapTier(s float64, cfg Config) (Tier, float64) {
	b1, b2, b3 := cfg.Boundary1, cfg.Boundary2, cfg.Boundary3
	switch {
	case s < b1:
		return Simple, b1 - s
	case s < b2:
		return Medium, math.Min(s-b1, b2-s)
	case s < b3:
		return Complex, math.Min(s-b2, b3-s)
	default:
		return Reasoning, s - b3
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// matchKeywords counts how many keywords from the list appear in text and
// returns up to two matched terms for the signal label.
func matchKeywords(text string, keywords []string) (int, string) {
	hits := 0
	var found []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits++
			if len(found) < 2 {
				found = append(found, strings.TrimSpace(k))
			}
		}
	}
	return hits, strings.Join(found, ", ")
}

// DescribeSignals renders the score and active signals into the
// human-readable reasoning string carried on routing decisions.
func DescribeSignals(r Result) string {
	if len(r.Signals) == 0 {
		return fmt.Sprintf("score %.3f, no signals", r.Score)
	}
	return fmt.Sprintf("score %.3f: %s", r.Score, strings.Join(r.Signals, "; "))
}
