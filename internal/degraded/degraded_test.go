package degraded

import (
	"strings"
	"testing"
)

func TestProviderErrorText(t *testing.T) {
	cases := []string{
		"Error: insufficient balance. Please check your billing settings.",
		"Your quota exceeded the limit; rate limit in effect.",
		"The model claude-3 is unavailable, service temporarily unavailable.",
	}
	for _, c := range cases {
		if got := Check(c, Config{}); got != ReasonProviderError {
			t.Errorf("Check(%q) = %q, want provider_error", c, got)
		}
	}
}

func TestSingleErrorPhraseNotFlagged(t *testing.T) {
	// One matching phrase alone is too weak a signal.
	if got := Check("Rate limiting is a common API design pattern.", Config{}); got != ReasonNone {
		t.Fatalf("single phrase flagged as %q", got)
	}
}

func TestLongAnswerMentioningErrorsNotFlagged(t *testing.T) {
	answer := "Billing systems handle insufficient balance cases by... " +
		strings.Repeat("More detail about retry strategies and quota exceeded handling. ", 30)
	if got := Check(answer, Config{}); got != ReasonNone {
		t.Fatalf("long genuine answer flagged as %q", got)
	}
}

func TestErrorObjectTextSingleMatch(t *testing.T) {
	cases := []string{
		"quota exceeded for this API key",
		"insufficient balance",
		"model gpt-9 is unavailable",
	}
	for _, c := range cases {
		if got := CheckErrorText(c); got != ReasonProviderError {
			t.Errorf("CheckErrorText(%q) = %q, want provider_error", c, got)
		}
	}
	if got := CheckErrorText("tool call arguments were invalid"); got != ReasonNone {
		t.Fatalf("benign error text flagged as %q", got)
	}
	if got := CheckErrorText("AI service is temporarily overloaded"); got != ReasonOverload {
		t.Fatalf("got %q, want overload_placeholder", got)
	}
}

func TestLoopSignaturePhrases(t *testing.T) {
	loop := "The boxed is the response. The response is the text. Done."
	if got := Check(loop, Config{}); got != ReasonRepetition {
		t.Fatalf("got %q, want repetition", got)
	}
	single := "The boxed is the response to your question, nothing more."
	if got := Check(single, Config{}); got != ReasonNone {
		t.Fatalf("single signature flagged as %q", got)
	}
}

func TestOverloadPlaceholder(t *testing.T) {
	if got := Check("AI service is temporarily overloaded. Please try again.", Config{}); got != ReasonOverload {
		t.Fatalf("got %q, want overload_placeholder", got)
	}
}

func TestRepetitionLoop(t *testing.T) {
	loop := strings.Repeat("I will now continue.\n", 10)
	if got := Check(loop, Config{}); got != ReasonRepetition {
		t.Fatalf("got %q, want repetition", got)
	}
}

func TestVariedListNotFlagged(t *testing.T) {
	list := "1. apples\n2. oranges\n3. pears\n4. plums\n5. kiwis\n6. grapes\n7. mangos\n8. limes\n9. figs\n10. dates"
	if got := Check(list, Config{}); got != ReasonNone {
		t.Fatalf("varied list flagged as %q", got)
	}
}

func TestShortOutputSkipsRepetitionCheck(t *testing.T) {
	short := "yes\nyes\nyes"
	if got := Check(short, Config{}); got != ReasonNone {
		t.Fatalf("short output flagged as %q", got)
	}
}

func TestEmptyContent(t *testing.T) {
	if got := Check("   \n  ", Config{}); got != ReasonNone {
		t.Fatalf("whitespace flagged as %q", got)
	}
}

func TestConfigOverrides(t *testing.T) {
	// Stricter MaxRepeat catches a lighter loop.
	loop := "ok\nok\nok\nok\ndone\nfine\ngood\nend"
	if got := Check(loop, Config{MaxRepeat: 4, UniqueRatio: 0.7}); got != ReasonRepetition {
		t.Fatalf("got %q with custom config", got)
	}
	if got := Check(loop, Config{}); got != ReasonNone {
		t.Fatalf("default config should not flag, got %q", got)
	}
}
