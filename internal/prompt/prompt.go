// Package prompt normalizes chat message lists for the quirks of individual
// model providers and compresses oversized conversations before they hit
// context limits.
package prompt

import (
	"crypto/sha256"
	"encoding/json"
	"regexp"
	"strings"
)

// Message is the provider-agnostic chat message shape. Content is either a
// string or a structured part list; it passes through untouched except where
// a transform explicitly targets it.
type Message struct {
	Role             string          `json:"role"`
	Content          any             `json:"content,omitempty"`
	Name             string          `json:"name,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
	ReasoningContent *string         `json:"reasoning_content,omitempty"`
}

const (
	// MaxMessages is the hard cap on conversation length; older non-system
	// turns beyond it are dropped.
	MaxMessages = 200

	// CompressionThreshold is the serialized size at which the lossy
	// compression layers kick in.
	CompressionThreshold = 180 << 10

	continuationText = "(continuing conversation)"
)

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// NormalizeRoles maps non-standard roles onto the canonical set: "developer"
// becomes "system", anything unrecognized becomes "user".
func NormalizeRoles(msgs []Message) []Message {
	for i := range msgs {
		switch {
		case msgs[i].Role == "developer":
			msgs[i].Role = "system"
		case !validRoles[msgs[i].Role]:
			msgs[i].Role = "user"
		}
	}
	return msgs
}

// Truncate keeps all system messages plus the most recent max non-system
// turns, preserving order.
func Truncate(msgs []Message, max int) []Message {
	if max <= 0 {
		max = MaxMessages
	}
	var nonSystem int
	for _, m := range msgs {
		if m.Role != "system" {
			nonSystem++
		}
	}
	if nonSystem <= max {
		return msgs
	}

	drop := nonSystem - max
	out := make([]Message, 0, len(msgs)-drop)
	for _, m := range msgs {
		if m.Role != "system" && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}

var toolIDInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolIDs rewrites tool_call_id values to the character set every
// provider accepts. The same input always maps to the same output so call
// and result messages stay paired.
func SanitizeToolIDs(msgs []Message) []Message {
	for i := range msgs {
		if msgs[i].ToolCallID != "" {
			msgs[i].ToolCallID = toolIDInvalid.ReplaceAllString(msgs[i].ToolCallID, "_")
		}
	}
	return msgs
}

// EnsureLeadingUser inserts a placeholder user turn when the first
// non-system message is from the assistant. Google models reject
// conversations that open with an assistant turn.
func EnsureLeadingUser(msgs []Message) []Message {
	for i, m := range msgs {
		if m.Role == "system" {
			continue
		}
		if m.Role == "user" {
			return msgs
		}
		out := make([]Message, 0, len(msgs)+1)
		out = append(out, msgs[:i]...)
		out = append(out, Message{Role: "user", Content: continuationText})
		out = append(out, msgs[i:]...)
		return out
	}
	return msgs
}

// AddReasoningShim gives assistant tool-call messages an explicit (possibly
// empty) reasoning_content field. Reasoning models reject assistant history
// that carries tool calls but omits it.
func AddReasoningShim(msgs []Message) []Message {
	empty := ""
	for i := range msgs {
		if msgs[i].Role == "assistant" && len(msgs[i].ToolCalls) > 0 && msgs[i].ReasoningContent == nil {
			msgs[i].ReasoningContent = &empty
		}
	}
	return msgs
}

// ForProvider applies the transforms a target model needs: family quirks
// keyed on the id's vendor prefix ("google/gemini-2.5-pro" → "google"), and
// the reasoning_content shim when the target is a reasoning model.
func ForProvider(msgs []Message, modelID string, reasoning bool) []Message {
	msgs = NormalizeRoles(msgs)
	msgs = SanitizeToolIDs(msgs)
	msgs = Truncate(msgs, MaxMessages)

	if family, _, _ := strings.Cut(modelID, "/"); family == "google" {
		msgs = EnsureLeadingUser(msgs)
	}
	if reasoning {
		msgs = AddReasoningShim(msgs)
	}
	return msgs
}

var whitespaceRuns = regexp.MustCompile(`[ \t]{2,}`)

// Compress applies progressively lossy reductions to an oversized
// conversation until it fits under the threshold or the layers are
// exhausted: duplicate-message removal, then whitespace collapsing.
// Conversations under the threshold pass through untouched.
func Compress(msgs []Message) []Message {
	if serializedSize(msgs) < CompressionThreshold {
		return msgs
	}

	msgs = dedupMessages(msgs)
	if serializedSize(msgs) < CompressionThreshold {
		return msgs
	}

	for i := range msgs {
		if s, ok := msgs[i].Content.(string); ok {
			msgs[i].Content = collapseWhitespace(s)
		}
	}
	return msgs
}

// dedupMessages drops later repeats of byte-identical messages, keeping the
// first occurrence. Agent loops often re-send large unchanged tool outputs.
func dedupMessages(msgs []Message) []Message {
	seen := make(map[[32]byte]bool, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			out = append(out, m)
			continue
		}
		h := sha256.Sum256(raw)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, m)
	}
	return out
}

func collapseWhitespace(s string) string {
	s = whitespaceRuns.ReplaceAllString(s, " ")
	// Cap blank-line runs at one empty line.
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func serializedSize(msgs []Message) int {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return 0
	}
	return len(raw)
}
