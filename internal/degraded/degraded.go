// Package degraded detects upstream responses that came back 200 but are
// not real completions: provider error text passed through as content,
// overload placeholders, or pathological repetition loops.
package degraded

import (
	"regexp"
	"strings"
)

// Reason classifies why a response was judged degraded.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonProviderError Reason = "provider_error"
	ReasonOverload      Reason = "overload_placeholder"
	ReasonRepetition    Reason = "repetition"
)

// Config tunes the repetition heuristics. Zero values take defaults.
type Config struct {
	// MinLines is the minimum line count before repetition analysis runs.
	MinLines int
	// MaxRepeat is the repeat count of a single line that flags a loop.
	MaxRepeat int
	// UniqueRatio is the unique-line ratio at or below which repetition
	// is flagged (combined with MaxRepeat).
	UniqueRatio float64
}

func (c Config) withDefaults() Config {
	if c.MinLines <= 0 {
		c.MinLines = 8
	}
	if c.MaxRepeat <= 0 {
		c.MaxRepeat = 3
	}
	if c.UniqueRatio <= 0 {
		c.UniqueRatio = 0.45
	}
	return c
}

// Provider error text leaking into completion content. Matched
// case-insensitively against short responses only; a long genuine answer
// about billing should not trip this.
var providerErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbilling\b`),
	regexp.MustCompile(`(?i)insufficient\s+(balance|funds|credits?|quota)`),
	regexp.MustCompile(`(?i)\b(out of|no remaining)\s+credits?\b`),
	regexp.MustCompile(`(?i)quota\s+(exceeded|exhausted|reached)`),
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)model\s+.{0,40}(unavailable|not\s+found|deprecated)`),
	regexp.MustCompile(`(?i)service\s+.{0,20}unavailable`),
	regexp.MustCompile(`(?i)\bat\s+capacity\b`),
	regexp.MustCompile(`(?i)\boverloaded\b`),
	regexp.MustCompile(`(?i)temporarily\s+unavailable`),
	regexp.MustCompile(`(?i)request\s+too\s+large`),
	regexp.MustCompile(`(?i)payload\s+too\s+large`),
}

const overloadPlaceholder = "ai service is temporarily overloaded"

// providerErrorMaxLen bounds the error-text check; anything longer is a
// real answer that happens to mention an error phrase.
const providerErrorMaxLen = 600

// Stock phrases of models stuck in a self-referential answer loop.
var loopSignatures = []string{
	"the boxed is the response",
	"the response is the text",
}

// Check inspects completion content and reports whether a fallback to the
// next model is warranted.
func Check(content string, cfg Config) Reason {
	cfg = cfg.withDefaults()
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ReasonNone
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, overloadPlaceholder) {
		return ReasonOverload
	}

	if len(trimmed) <= providerErrorMaxLen {
		var hits int
		for _, re := range providerErrorPatterns {
			if re.MatchString(trimmed) {
				hits++
				if hits >= 2 {
					return ReasonProviderError
				}
			}
		}
	}

	var sigHits int
	for _, sig := range loopSignatures {
		sigHits += strings.Count(lower, sig)
	}
	if sigHits >= 2 {
		return ReasonRepetition
	}

	if repetitive(trimmed, cfg) {
		return ReasonRepetition
	}
	return ReasonNone
}

// CheckErrorText inspects text pulled out of a response's error object. A
// single pattern match is enough here: the upstream already labeled this as
// an error, the only question is whether it names a provider-side failure
// worth a fallback.
func CheckErrorText(text string) Reason {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ReasonNone
	}
	if strings.Contains(strings.ToLower(trimmed), overloadPlaceholder) {
		return ReasonOverload
	}
	for _, re := range providerErrorPatterns {
		if re.MatchString(trimmed) {
			return ReasonProviderError
		}
	}
	return ReasonNone
}

// repetitive flags output stuck in a loop: enough lines where one line
// repeats heavily and the overall variety has collapsed.
func repetitive(content string, cfg Config) bool {
	lines := strings.Split(content, "\n")
	var nonEmpty []string
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) < cfg.MinLines {
		return false
	}

	counts := make(map[string]int, len(nonEmpty))
	maxRepeat := 0
	for _, l := range nonEmpty {
		counts[l]++
		if counts[l] > maxRepeat {
			maxRepeat = counts[l]
		}
	}
	uniqueRatio := float64(len(counts)) / float64(len(nonEmpty))
	return maxRepeat >= cfg.MaxRepeat && uniqueRatio <= cfg.UniqueRatio
}
