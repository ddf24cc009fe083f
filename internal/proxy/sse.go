package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const heartbeatInterval = 2 * time.Second

// sseWriter serializes writes to a streaming response. After a write error
// further writes are suppressed so a dead client doesn't wedge the pipeline.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flush   http.Flusher
	failed  bool
	stopped bool
	stop    chan struct{}
}

// startSSE emits the streaming headers and first heartbeat immediately, then
// keeps heartbeating every 2 seconds until the writer is closed. Clients see
// a line within the heartbeat interval no matter how slow the upstream is.
func startSSE(w http.ResponseWriter, extra map[string]string) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	for k, v := range extra {
		h.Set(k, v)
	}
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, stop: make(chan struct{})}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f
	}
	s.comment("heartbeat")

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.comment("heartbeat")
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

func (s *sseWriter) comment(text string) {
	s.write([]byte(": " + text + "\n\n"))
}

func (s *sseWriter) data(payload []byte) {
	s.write(append(append([]byte("data: "), payload...), '\n', '\n'))
}

func (s *sseWriter) done() {
	s.write([]byte("data: [DONE]\n\n"))
}

func (s *sseWriter) write(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if _, err := s.w.Write(b); err != nil {
		s.failed = true
		return
	}
	if s.flush != nil {
		s.flush.Flush()
	}
}

// close stops the heartbeat ticker. Idempotent.
func (s *sseWriter) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

// completion is the subset of an upstream chat completion the transcoder
// needs.
type completion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ToolCalls json.RawMessage `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

var thinkTagRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// stripReasoningTags removes chain-of-thought tags some models leak into
// content.
func stripReasoningTags(content string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
}

// transcodeToSSE synthesizes an OpenAI-style chunk stream from a buffered
// JSON completion: role delta, content delta, optional tool_calls delta,
// then the finish chunk. Returns the accumulated assistant text.
func transcodeToSSE(s *sseWriter, body []byte) (assistantText string, err error) {
	var comp completion
	if err := json.Unmarshal(body, &comp); err != nil {
		return "", fmt.Errorf("parse upstream completion: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("upstream completion has no choices")
	}
	choice := comp.Choices[0]

	id := comp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	created := time.Now().Unix()

	emit := func(delta map[string]any, finish any) {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   comp.Model,
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		raw, _ := json.Marshal(chunk)
		s.data(raw)
	}

	role := choice.Message.Role
	if role == "" {
		role = "assistant"
	}
	emit(map[string]any{"role": role}, nil)

	content := stripReasoningTags(choice.Message.Content)
	if content != "" {
		emit(map[string]any{"content": content}, nil)
	}
	if len(choice.Message.ToolCalls) > 0 && string(choice.Message.ToolCalls) != "null" {
		emit(map[string]any{"tool_calls": json.RawMessage(choice.Message.ToolCalls)}, nil)
	}

	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}
	emit(map[string]any{}, finish)
	s.done()
	return content, nil
}

// sseError reports a failure after streaming headers have already gone out:
// the error rides a data chunk, then the stream terminates normally.
func sseError(s *sseWriter, errType, message string, code int) {
	s.data(errorJSON(errType, message, code))
	s.done()
}
