// Package models holds the BlockRun model catalogue: stable ids, pricing,
// context windows, and the alias map that redirects short names to canonical
// ids.
package models

import (
	"sort"
	"strings"
)

// BrandPrefix is stripped from requested model names before alias lookup, so
// "blockrun/gpt-4o-mini" and "gpt-4o-mini" resolve identically.
const BrandPrefix = "blockrun/"

// PremiumReferenceID is the fixed reference model used to compute the
// baseline cost behind the savings ratio.
const PremiumReferenceID = "anthropic/claude-opus-4"

// FreeModelID is the model requests are rewritten to under the free profile
// and on low balance.
const FreeModelID = "meta/llama-3.3-70b-free"

// Model describes one upstream model.
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Version         string  `json:"version,omitempty"`
	InputPer1M      float64 `json:"input_per_1m"`  // USD per 1M input tokens
	OutputPer1M     float64 `json:"output_per_1m"` // USD per 1M output tokens
	ContextWindow   int     `json:"context_window"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Reasoning       bool    `json:"reasoning"`
	Vision          bool    `json:"vision"`
	Agentic         bool    `json:"agentic"`
}

// Registry is a read-mostly model catalogue. It is built once at startup and
// never mutated afterwards, so no locking is required.
type Registry struct {
	models  map[string]Model
	aliases map[string]string
}

func NewRegistry(ms []Model, aliases map[string]string) *Registry {
	r := &Registry{
		models:  make(map[string]Model, len(ms)),
		aliases: make(map[string]string, len(aliases)),
	}
	for _, m := range ms {
		r.models[m.ID] = m
	}
	for k, v := range aliases {
		r.aliases[strings.ToLower(k)] = v
	}
	return r
}

// Get returns a model by canonical id.
func (r *Registry) Get(id string) (Model, bool) {
	m, ok := r.models[id]
	return m, ok
}

// List returns all models sorted by id.
func (r *Registry) List() []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContextWindow returns the declared context window for a model id, or 0 when
// the model is unknown.
func (r *Registry) ContextWindow(id string) int {
	m, ok := r.models[id]
	if !ok {
		return 0
	}
	return m.ContextWindow
}

// Resolve maps a requested model name to a canonical id. Resolution is a
// fixed point: resolving an already-canonical id returns it unchanged. The
// brand prefix is stripped before alias lookup; unknown names pass through
// lowercased and trimmed so the caller can reject them with a clear error.
func (r *Registry) Resolve(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, BrandPrefix)
	if canonical, ok := r.aliases[n]; ok {
		return canonical
	}
	if _, ok := r.models[n]; ok {
		return n
	}
	return n
}

// Default returns the registry of models the BlockRun aggregator serves,
// with the alias map for common short names.
func Default() *Registry {
	ms := []Model{
		{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", InputPer1M: 0.15, OutputPer1M: 0.60, ContextWindow: 128000, MaxOutputTokens: 16384, Vision: true},
		{ID: "openai/gpt-4o", Name: "GPT-4o", InputPer1M: 2.50, OutputPer1M: 10.00, ContextWindow: 128000, MaxOutputTokens: 16384, Vision: true, Agentic: true},
		{ID: "openai/o4-mini", Name: "o4-mini", InputPer1M: 1.10, OutputPer1M: 4.40, ContextWindow: 200000, MaxOutputTokens: 100000, Reasoning: true},
		{ID: "anthropic/claude-haiku-3.5", Name: "Claude Haiku 3.5", InputPer1M: 0.80, OutputPer1M: 4.00, ContextWindow: 200000, MaxOutputTokens: 8192},
		{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", InputPer1M: 3.00, OutputPer1M: 15.00, ContextWindow: 200000, MaxOutputTokens: 64000, Vision: true, Agentic: true},
		{ID: "anthropic/claude-opus-4", Name: "Claude Opus 4", InputPer1M: 15.00, OutputPer1M: 75.00, ContextWindow: 200000, MaxOutputTokens: 32000, Reasoning: true, Vision: true, Agentic: true},
		{ID: "deepseek/deepseek-chat", Name: "DeepSeek V3", InputPer1M: 0.27, OutputPer1M: 1.10, ContextWindow: 65536, MaxOutputTokens: 8192},
		{ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", InputPer1M: 0.55, OutputPer1M: 2.19, ContextWindow: 65536, MaxOutputTokens: 8192, Reasoning: true},
		{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", InputPer1M: 0.30, OutputPer1M: 2.50, ContextWindow: 1048576, MaxOutputTokens: 65536, Vision: true},
		{ID: "google/gemini-2.5-pro", Name: "Gemini 2.5 Pro", InputPer1M: 1.25, OutputPer1M: 10.00, ContextWindow: 1048576, MaxOutputTokens: 65536, Reasoning: true, Vision: true},
		{ID: "qwen/qwen-2.5-coder-32b", Name: "Qwen 2.5 Coder 32B", InputPer1M: 0.18, OutputPer1M: 0.18, ContextWindow: 131072, MaxOutputTokens: 8192},
		{ID: FreeModelID, Name: "Llama 3.3 70B (free)", InputPer1M: 0, OutputPer1M: 0, ContextWindow: 131072, MaxOutputTokens: 4096},
	}
	aliases := map[string]string{
		"gpt-4o-mini":   "openai/gpt-4o-mini",
		"gpt-4o":        "openai/gpt-4o",
		"4o-mini":       "openai/gpt-4o-mini",
		"o4-mini":       "openai/o4-mini",
		"haiku":         "anthropic/claude-haiku-3.5",
		"sonnet":        "anthropic/claude-sonnet-4",
		"opus":          "anthropic/claude-opus-4",
		"deepseek":      "deepseek/deepseek-chat",
		"r1":            "deepseek/deepseek-r1",
		"flash":         "google/gemini-2.5-flash",
		"gemini-pro":    "google/gemini-2.5-pro",
		"qwen-coder":    "qwen/qwen-2.5-coder-32b",
		"llama":         FreeModelID,
		"llama-free":    FreeModelID,
		"llama-3.3-70b": FreeModelID,
	}
	return NewRegistry(ms, aliases)
}
