package prompt

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalizeRoles(t *testing.T) {
	msgs := NormalizeRoles([]Message{
		{Role: "developer", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "model", Content: "hello"},
		{Role: "assistant", Content: "hello"},
	})
	want := []string{"system", "user", "user", "assistant"}
	for i, w := range want {
		if msgs[i].Role != w {
			t.Errorf("msg %d role = %s, want %s", i, msgs[i].Role, w)
		}
	}
}

func TestTruncateKeepsSystemAndRecent(t *testing.T) {
	msgs := []Message{{Role: "system", Content: "sys"}}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, Message{Role: "user", Content: i})
	}
	out := Truncate(msgs, 3)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4 (system + 3)", len(out))
	}
	if out[0].Role != "system" {
		t.Fatal("system message must survive truncation")
	}
	if out[1].Content != 7 || out[3].Content != 9 {
		t.Fatalf("should keep the most recent turns, got %v..%v", out[1].Content, out[3].Content)
	}
}

func TestTruncateNoOpUnderLimit(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "hi"}}
	if out := Truncate(msgs, 200); len(out) != 1 {
		t.Fatal("short conversations pass through")
	}
}

func TestSanitizeToolIDs(t *testing.T) {
	msgs := SanitizeToolIDs([]Message{
		{Role: "tool", ToolCallID: "call.123:abc"},
		{Role: "tool", ToolCallID: "ok_id-42"},
	})
	if msgs[0].ToolCallID != "call_123_abc" {
		t.Fatalf("sanitized id = %s", msgs[0].ToolCallID)
	}
	if msgs[1].ToolCallID != "ok_id-42" {
		t.Fatal("valid ids must pass through")
	}

	// Determinism keeps call/result pairs matched.
	again := SanitizeToolIDs([]Message{{Role: "assistant", ToolCallID: "call.123:abc"}})
	if again[0].ToolCallID != msgs[0].ToolCallID {
		t.Fatal("sanitization must be deterministic")
	}
}

func TestEnsureLeadingUser(t *testing.T) {
	msgs := EnsureLeadingUser([]Message{
		{Role: "system", Content: "sys"},
		{Role: "assistant", Content: "previously..."},
	})
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[1].Role != "user" || msgs[1].Content != "(continuing conversation)" {
		t.Fatalf("inserted turn = %+v", msgs[1])
	}

	// Already user-first: untouched.
	ok := EnsureLeadingUser([]Message{{Role: "user", Content: "hi"}})
	if len(ok) != 1 {
		t.Fatal("user-first conversation must pass through")
	}
}

func TestAddReasoningShim(t *testing.T) {
	calls := json.RawMessage(`[{"id":"call_1","type":"function"}]`)
	msgs := AddReasoningShim([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "assistant", ToolCalls: calls},
	})
	if msgs[0].ReasoningContent != nil || msgs[1].ReasoningContent != nil {
		t.Fatal("only assistant tool-call messages get the shim")
	}
	if msgs[2].ReasoningContent == nil || *msgs[2].ReasoningContent != "" {
		t.Fatal("assistant tool-call messages need an empty reasoning_content")
	}

	// Existing reasoning content is preserved.
	existing := "thought"
	kept := AddReasoningShim([]Message{{Role: "assistant", ToolCalls: calls, ReasoningContent: &existing}})
	if *kept[0].ReasoningContent != "thought" {
		t.Fatal("existing reasoning_content must survive")
	}
}

func TestForProviderDispatch(t *testing.T) {
	calls := json.RawMessage(`[{"id":"call_1","type":"function"}]`)

	msgs := []Message{{Role: "assistant", Content: "prev"}}
	google := ForProvider(msgs, "google/gemini-2.5-pro", false)
	if google[0].Role != "user" {
		t.Fatal("google path should insert the leading user turn")
	}

	msgs = []Message{{Role: "assistant", ToolCalls: calls}}
	rsn := ForProvider(msgs, "openai/o4-mini", true)
	if rsn[0].ReasoningContent == nil {
		t.Fatal("reasoning targets need the shim on tool-call messages")
	}

	msgs = []Message{{Role: "assistant", ToolCalls: calls}}
	chat := ForProvider(msgs, "deepseek/deepseek-chat", false)
	if chat[0].ReasoningContent != nil {
		t.Fatal("non-reasoning targets must not get the shim")
	}

	msgs = []Message{{Role: "assistant", Content: "prev"}}
	oa := ForProvider(msgs, "openai/gpt-4o", false)
	if oa[0].Role != "assistant" || oa[0].ReasoningContent != nil {
		t.Fatal("openai path applies only the common transforms")
	}
}

func TestCompressPassThroughUnderThreshold(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "short"}}
	out := Compress(msgs)
	if len(out) != 1 || out[0].Content != "short" {
		t.Fatal("small conversations must pass through untouched")
	}
}

func TestCompressDedupsRepeatedMessages(t *testing.T) {
	big := strings.Repeat("x", 100<<10)
	msgs := []Message{
		{Role: "user", Content: big},
		{Role: "user", Content: big},
		{Role: "user", Content: big},
		{Role: "user", Content: "tail"},
	}
	out := Compress(msgs)
	if len(out) != 2 {
		t.Fatalf("dedup left %d messages, want 2", len(out))
	}
	if out[1].Content != "tail" {
		t.Fatal("distinct messages must survive dedup")
	}
}

func TestCompressCollapsesWhitespace(t *testing.T) {
	// Distinct oversized messages so dedup alone can't get under the
	// threshold, forcing the whitespace layer.
	pad := strings.Repeat("word  \t  word\n\n\n\n", 8<<10)
	msgs := []Message{
		{Role: "user", Content: "a" + pad},
		{Role: "user", Content: "b" + pad},
	}
	out := Compress(msgs)
	s := out[0].Content.(string)
	if strings.Contains(s, "  ") || strings.Contains(s, "\n\n\n") {
		t.Fatal("whitespace runs should be collapsed")
	}
}
