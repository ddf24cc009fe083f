package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/blockrun/proxy/internal/balance"
	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/dedup"
	"github.com/blockrun/proxy/internal/degraded"
	"github.com/blockrun/proxy/internal/models"
	"github.com/blockrun/proxy/internal/payment"
	"github.com/blockrun/proxy/internal/prompt"
	"github.com/blockrun/proxy/internal/respcache"
	"github.com/blockrun/proxy/internal/routing"
	"github.com/blockrun/proxy/internal/usage"
)

const maxAttempts = 5

var structuredOutputRe = regexp.MustCompile(`(?i)json|structured|schema`)

// chatRequest is the parsed subset of the client body the pipeline routes
// on. raw keeps every other field for faithful forwarding.
type chatRequest struct {
	raw       map[string]any
	model     string
	messages  []prompt.Message
	maxTokens int
	stream    bool
	body      []byte
}

func parseChatRequest(body []byte, defaultMaxTokens int) (*chatRequest, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed JSON body")
	}

	rawMsgs, ok := raw["messages"]
	if !ok {
		return nil, fmt.Errorf("missing messages")
	}
	msgBytes, err := json.Marshal(rawMsgs)
	if err != nil {
		return nil, fmt.Errorf("malformed messages")
	}
	var msgs []prompt.Message
	if err := json.Unmarshal(msgBytes, &msgs); err != nil {
		return nil, fmt.Errorf("malformed messages")
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("messages is empty")
	}

	req := &chatRequest{
		raw:       raw,
		messages:  msgs,
		maxTokens: defaultMaxTokens,
		body:      body,
	}
	if m, ok := raw["model"].(string); ok {
		req.model = m
	}
	if mt, ok := raw["max_tokens"].(float64); ok && mt > 0 {
		req.maxTokens = int(mt)
	}
	if st, ok := raw["stream"].(bool); ok {
		req.stream = st
	}
	return req, nil
}

// textContent extracts the string content of a message, flattening part
// lists.
func textContent(m prompt.Message) string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, part := range c {
			if pm, ok := part.(map[string]any); ok {
				if s, ok := pm["text"].(string); ok {
					b.WriteString(s)
				}
			}
		}
		return b.String()
	}
	return ""
}

func (req *chatRequest) promptText() (user, system string) {
	for _, m := range req.messages {
		if m.Role == "system" && system == "" {
			system = textContent(m)
		}
	}
	for i := len(req.messages) - 1; i >= 0; i-- {
		if req.messages[i].Role == "user" {
			user = textContent(req.messages[i])
			break
		}
	}
	return user, system
}

func (req *chatRequest) estInputTokens() int {
	var bytes int
	for _, m := range req.messages {
		bytes += len(textContent(m))
	}
	return (bytes + 3) / 4
}

// estimateMicroUSD converts a USD cost estimate into the 6-decimal payment
// amount: ceil(1.2 x cost) with a floor of 100 uUSD.
func estimateMicroUSD(costUSD float64) int64 {
	micro := int64(math.Ceil(costUSD * 1.2 * 1e6))
	if micro < 100 {
		micro = 100
	}
	return micro
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeProxyError, "unreadable request body")
		return
	}

	req, err := parseChatRequest(body, s.cfg.DefaultMaxTokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeProxyError, err.Error())
		return
	}

	decision, profile, err := s.resolveAndClassify(r, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeProxyError, err.Error())
		return
	}
	s.metrics.ClassifierTiers.WithLabelValues(decision.Tier.String(), decision.Method).Inc()

	// Balance gate: a paid model the wallet cannot cover downgrades to the
	// free model rather than failing.
	deducted := s.applyBalanceGate(r.Context(), req, &decision, profile)

	// Dedup: identical concurrent requests collapse onto one upstream call.
	// A client that opted out of caching gets a fresh upstream call, so it
	// neither joins nor seeds the dedup set.
	respectCache := respcache.ShouldCache(r.Header, req.body)
	key := ""
	if respectCache {
		key = dedup.Key(req.body)
		owner, cachedResult, wait := s.dedup.Claim(key)
		if !owner {
			s.serveDedupOutcome(w, r, req, cachedResult, wait)
			return
		}
	}

	cacheable := s.cfg.CacheEnabled && !req.stream && respectCache
	cacheKey := ""
	if cacheable {
		cacheKey = respcache.Key(req.body)
		if entry, ok := s.cache.Get(cacheKey); ok {
			s.metrics.CacheHits.WithLabelValues("hit").Inc()
			s.dedup.Complete(key, dedup.Result{Status: entry.Status, ContentType: entry.ContentType, Body: entry.Body})
			serveBody(w, entry.Status, entry.ContentType, entry.Body)
			return
		}
		s.metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	ctxHeaders := s.contextHeaders(req, decision.Model)

	var sse *sseWriter
	if req.stream {
		sse = startSSE(w, ctxHeaders)
		defer sse.close()
	}

	resp, attempts, finalModel, upErr := s.attemptChain(r.Context(), req, decision, profile)
	s.metrics.FallbackDepth.Observe(float64(attempts))

	if upErr != nil {
		if key != "" {
			s.dedup.Abandon(key)
		}
		s.emitFailure(w, sse, upErr)
		return
	}

	// Success path.
	if key != "" {
		s.dedup.Complete(key, dedup.Result{Status: resp.Status, ContentType: "application/json", Body: resp.Body})
	}
	if cacheable {
		s.cache.Put(cacheKey, respcache.Entry{
			Status:      resp.Status,
			ContentType: "application/json",
			Body:        resp.Body,
			Model:       finalModel,
		})
	}
	if deducted != nil && s.balance != nil {
		s.balance.DeductEstimated(deducted)
	}

	if sse != nil {
		if _, err := transcodeToSSE(sse, resp.Body); err != nil {
			s.log.Error("sse transcode failed", "error", err)
			sseError(sse, ErrTypeProxyError, "upstream returned an unreadable completion", 0)
		}
	} else {
		for k, v := range ctxHeaders {
			w.Header().Set(k, v)
		}
		serveBody(w, resp.Status, "application/json", resp.Body)
	}

	s.recordUsage(r, req, decision, profile, finalModel, resp.Status, attempts, start)
}

// resolveAndClassify runs alias resolution, the free shortcut, session
// pinning, and classification with overrides. It returns the routing
// decision and the effective profile.
func (s *Server) resolveAndClassify(r *http.Request, req *chatRequest) (routing.Decision, routing.Profile, error) {
	resolved := s.registry.Resolve(req.model)
	profile := routing.ProfileAuto
	explicit := ""
	if p, ok := routing.IsProfile(resolved); ok {
		profile = p
	} else if req.model != "" {
		if _, ok := s.registry.Get(resolved); !ok {
			return routing.Decision{}, "", fmt.Errorf("unknown model %q", req.model)
		}
		explicit = resolved
	}

	// Free profile shortcut: no classification, no balance check.
	if profile == routing.ProfileFree {
		return routing.Decision{
			Model:     models.FreeModelID,
			Tier:      classifier.Simple,
			Method:    "profile",
			Reasoning: "free profile",
		}, profile, nil
	}

	if explicit != "" {
		return routing.Decision{
			Model:      explicit,
			Tier:       classifier.Medium,
			Confidence: 1,
			Method:     "explicit",
			Reasoning:  "client requested model directly",
		}, profile, nil
	}

	// Session pin: multi-turn conversations stay on one model.
	sessionID := r.Header.Get(s.cfg.SessionHeader)
	if s.sessions != nil && sessionID != "" {
		if pinned, ok := s.sessions.Get(sessionID); ok {
			return routing.Decision{
				Model:      pinned,
				Confidence: 1,
				Method:     "session",
				Reasoning:  "pinned by session " + sessionID,
			}, profile, nil
		}
	}

	user, system := req.promptText()
	estTokens := req.estInputTokens()

	cur := s.routes.Current()
	clsCfg := classifier.DefaultConfig()
	clsCfg.Weights = cur.Weights

	var result classifier.Result
	switch {
	case estTokens > s.cfg.MaxTokensForceComplex:
		result = classifier.Result{
			Tier:       classifier.Complex,
			Confidence: 0.95,
			Signals:    []string{fmt.Sprintf("Input exceeds %d tokens", s.cfg.MaxTokensForceComplex)},
		}
	default:
		result = classifier.Classify(user, system, estTokens, clsCfg)
		if result.Ambiguous {
			// Low confidence falls back to the configured default tier.
			result.Tier = classifier.ParseTier(s.cfg.AmbiguousDefaultTier)
		}
		if structuredOutputRe.MatchString(system) && result.Tier < s.cfg.StructuredOutputMinTier {
			result.Tier = s.cfg.StructuredOutputMinTier
			result.Signals = append(result.Signals, "structured output requested")
		}
	}

	agentic := result.AgenticScore
	switch s.cfg.AgenticMode {
	case "on":
		agentic = 1
	case "off":
		agentic = 0
	}

	table := cur.Tables.ForProfile(profile, agentic)
	decision, err := routing.SelectModel(s.registry, table, result.Tier,
		result.Confidence, "rules", classifier.DescribeSignals(result),
		estTokens, req.maxTokens, profile)
	if err != nil {
		return routing.Decision{}, "", err
	}
	decision.AgenticScore = agentic

	if s.sessions != nil && sessionID != "" {
		s.sessions.Pin(sessionID, decision.Model)
	}
	return decision, profile, nil
}

// applyBalanceGate downgrades to the free model when the wallet cannot
// cover the estimate. It returns the reserved estimate (for post-success
// deduction) or nil when no payment will be made. RPC failures never
// downgrade; the upstream gets the final word.
func (s *Server) applyBalanceGate(ctx context.Context, req *chatRequest, decision *routing.Decision, profile routing.Profile) *big.Int {
	if s.balance == nil || profile == routing.ProfileFree {
		return nil
	}
	cost := routing.EstimateCost(s.registry, decision.Model, req.estInputTokens(), req.maxTokens)
	if cost == 0 {
		return nil
	}
	estimate := big.NewInt(estimateMicroUSD(cost))

	info, err := s.balance.Info(ctx)
	if err != nil {
		var rpcErr *balance.RPCError
		if errors.As(err, &rpcErr) {
			s.log.Warn("balance check unavailable, proceeding", "error", err)
			return estimate
		}
		return estimate
	}
	s.metrics.BalanceUSD.Set(info.BalanceUSD)

	// The gate is lenient: only downgrade when the estimate exceeds 1.5x
	// the effective balance, or the wallet is outright empty.
	headroom := new(big.Int).Div(new(big.Int).Mul(info.Balance, big.NewInt(3)), big.NewInt(2))
	if info.IsEmpty || estimate.Cmp(headroom) > 0 {
		s.log.Info("balance too low, downgrading to free model",
			"balance_usd", info.BalanceUSD, "model", decision.Model)
		decision.Model = models.FreeModelID
		decision.Reasoning = "balance too low, downgraded to free model"
		if s.onLowBalance != nil {
			s.onLowBalance(info)
		}
		return nil
	}
	return estimate
}

// attemptError carries the terminal failure of the fallback loop.
type attemptError struct {
	status  int
	errType string
	message string
	body    []byte
}

func (e *attemptError) Error() string { return e.message }

// attemptChain runs the fallback loop: up to maxAttempts candidates, rate-
// limited models reordered to the tail, degraded 200s treated as failures.
func (s *Server) attemptChain(ctx context.Context, req *chatRequest, decision routing.Decision, profile routing.Profile) (*payment.Response, int, string, error) {
	chain := s.candidates(req, decision, profile)

	var lastErr *attemptError
	attempts := 0
	for _, model := range chain {
		if attempts >= maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempts, "", &attemptError{status: 499, errType: ErrTypeProxyError, message: "client disconnected"}
		default:
		}
		attempts++

		resp, aerr := s.attemptOne(ctx, req, model, profile)
		if aerr == nil {
			return resp, attempts, model, nil
		}
		lastErr = aerr
		if aerr.status == http.StatusTooManyRequests {
			s.cooldown.MarkRateLimited(model)
			s.log.Info("model rate limited, cooling down", "model", model)
		}
		if !retryableStatus(aerr.status) && aerr.status != 0 {
			break
		}
		s.log.Info("attempt failed, advancing fallback chain",
			"model", model, "status", aerr.status, "attempt", attempts)
	}

	if lastErr == nil {
		lastErr = &attemptError{status: http.StatusServiceUnavailable, errType: ErrTypeAllUnavailable, message: "no candidate models available"}
	} else if retryableStatus(lastErr.status) || lastErr.status == 0 {
		lastErr = &attemptError{
			status:  http.StatusServiceUnavailable,
			errType: ErrTypeAllUnavailable,
			message: fmt.Sprintf("all candidate models failed after %d attempts (last status %d)", attempts, lastErr.status),
			body:    lastErr.body,
		}
	}
	return nil, attempts, "", lastErr
}

// candidates produces the ordered, context-filtered, cooldown-reordered
// model list for this request.
func (s *Server) candidates(req *chatRequest, decision routing.Decision, profile routing.Profile) []string {
	if decision.Method == "explicit" || decision.Method == "session" || decision.Model == models.FreeModelID {
		return []string{decision.Model}
	}
	cur := s.routes.Current()
	table := cur.Tables.ForProfile(profile, decision.AgenticScore)
	// The decision's model may have been swapped (balance downgrade); make
	// sure it leads the chain either way.
	chain := routing.FallbackChainFiltered(s.registry, table, decision.Tier, req.estInputTokens()+req.maxTokens)
	if len(chain) == 0 || chain[0] != decision.Model {
		rebuilt := []string{decision.Model}
		for _, m := range chain {
			if m != decision.Model {
				rebuilt = append(rebuilt, m)
			}
		}
		chain = rebuilt
	}
	if len(chain) > maxAttempts {
		chain = chain[:maxAttempts]
	}
	return s.cooldown.Reorder(chain)
}

// attemptOne forwards the request to a single model, with per-attempt
// message normalization and payment pre-auth.
func (s *Server) attemptOne(ctx context.Context, req *chatRequest, model string, profile routing.Profile) (*payment.Response, *attemptError) {
	target, _ := s.registry.Get(model)
	msgs := prompt.ForProvider(cloneMessages(req.messages), model, target.Reasoning)
	msgs = prompt.Compress(msgs)

	forward := make(map[string]any, len(req.raw))
	for k, v := range req.raw {
		forward[k] = v
	}
	forward["model"] = model
	forward["messages"] = msgs
	// Upstream streaming stays off; the proxy transcodes to SSE itself.
	forward["stream"] = false
	delete(forward, "cache")
	delete(forward, "no_cache")

	forwardBody, err := json.Marshal(forward)
	if err != nil {
		return nil, &attemptError{status: 0, errType: ErrTypeProxyError, message: "request serialization failed"}
	}

	estAmount := ""
	if cost := routing.EstimateCost(s.registry, model, req.estInputTokens(), req.maxTokens); cost > 0 && profile != routing.ProfileFree {
		estAmount = strconv.FormatInt(estimateMicroUSD(cost), 10)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	resp, err := s.payments.Do(attemptCtx, http.MethodPost, s.cfg.UpstreamBaseURL+"/v1/chat/completions", forwardBody, nil, estAmount)
	if err != nil {
		s.metrics.PaymentsTotal.WithLabelValues("error").Inc()
		return nil, &attemptError{status: 0, errType: ErrTypeProviderError, message: err.Error()}
	}

	if resp.Status == http.StatusOK {
		if reason := s.degradedReason(resp.Body); reason != degraded.ReasonNone {
			s.log.Info("degraded response detected", "model", model, "reason", string(reason))
			return nil, &attemptError{status: http.StatusServiceUnavailable, errType: ErrTypeProviderError, message: "degraded response: " + string(reason)}
		}
		if estAmount != "" {
			s.metrics.PaymentsTotal.WithLabelValues("settled").Inc()
		}
		return resp, nil
	}

	errType := ErrTypeProviderError
	if resp.Status == http.StatusTooManyRequests {
		errType = ErrTypeRateLimited
	}
	if resp.Status == http.StatusPaymentRequired {
		s.metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		if s.balance != nil {
			// A rejected payment means the cached balance view is stale.
			s.balance.Invalidate()
		}
	}
	return nil, &attemptError{
		status:  resp.Status,
		errType: errType,
		message: fmt.Sprintf("upstream returned %d", resp.Status),
		body:    resp.Body,
	}
}

// degradedReason inspects a 200 body: assistant content heuristics plus any
// embedded error object text.
func (s *Server) degradedReason(body []byte) degraded.Reason {
	var comp completion
	if err := json.Unmarshal(body, &comp); err == nil && len(comp.Choices) > 0 {
		if reason := degraded.Check(comp.Choices[0].Message.Content, s.cfg.Degraded); reason != degraded.ReasonNone {
			return reason
		}
	}
	if text := extractErrorText(body); text != "" {
		// Error-object text is already an error; one pattern match suffices.
		if reason := degraded.CheckErrorText(text); reason != degraded.ReasonNone {
			return reason
		}
	}
	return degraded.ReasonNone
}

// serveDedupOutcome answers a request that did not own the upstream call:
// either a fresh completed replay or the origin's eventual outcome.
func (s *Server) serveDedupOutcome(w http.ResponseWriter, r *http.Request, req *chatRequest, cached *dedup.Result, wait <-chan dedup.Outcome) {
	s.metrics.DedupCollapsed.Inc()
	if cached != nil {
		serveBody(w, cached.Status, cached.ContentType, cached.Body)
		return
	}
	select {
	case out := <-wait:
		if out.Failed || out.Result == nil {
			writeError(w, http.StatusServiceUnavailable, ErrTypeDedupOriginFailed, "Original request failed, please retry")
			return
		}
		serveBody(w, out.Result.Status, out.Result.ContentType, out.Result.Body)
	case <-r.Context().Done():
	}
}

// emitFailure maps the terminal attempt error onto the wire, via SSE when
// streaming headers are already out.
func (s *Server) emitFailure(w http.ResponseWriter, sse *sseWriter, err error) {
	var aerr *attemptError
	if !errors.As(err, &aerr) {
		aerr = &attemptError{status: http.StatusInternalServerError, errType: ErrTypeProxyError, message: err.Error()}
	}

	status := aerr.status
	body := errorJSON(aerr.errType, aerr.message, aerr.status)
	if len(aerr.body) > 0 {
		if transformed := transformPaymentError(aerr.body, s.cfg.WalletAddress); transformed != nil {
			body = transformed
			status = http.StatusPaymentRequired
		}
	}

	if sse != nil {
		sse.data(body)
		sse.done()
		return
	}
	if status == 0 || status == 499 {
		status = http.StatusBadGateway
	}
	serveBody(w, status, "application/json", body)
}

func (s *Server) contextHeaders(req *chatRequest, model string) map[string]string {
	usedKB := (len(req.body) + 1023) / 1024
	limitKB := 0
	if cw := s.registry.ContextWindow(model); cw > 0 {
		// Rough bytes-per-token heuristic, reported in KiB.
		limitKB = cw * 4 / 1024
	}
	return map[string]string{
		"x-context-used-kb":  strconv.Itoa(usedKB),
		"x-context-limit-kb": strconv.Itoa(limitKB),
	}
}

func (s *Server) recordUsage(r *http.Request, req *chatRequest, decision routing.Decision, profile routing.Profile, model string, status, attempts int, start time.Time) {
	latency := time.Since(start)
	s.metrics.RequestsTotal.WithLabelValues(string(profile), model, decision.Tier.String(), strconv.Itoa(status)).Inc()
	s.metrics.RequestLatency.WithLabelValues(string(profile), model).Observe(float64(latency.Milliseconds()))
	s.metrics.CostUSD.WithLabelValues(model).Add(decision.EstimatedUSD)
	if decision.BaselineUSD > decision.EstimatedUSD {
		s.metrics.SavingsUSD.Add(decision.BaselineUSD - decision.EstimatedUSD)
	}

	if s.usage == nil {
		return
	}
	rec := usage.Record{
		RequestID:    middleware.GetReqID(r.Context()),
		Model:        model,
		Tier:         decision.Tier.String(),
		Profile:      string(profile),
		Method:       decision.Method,
		InputTokens:  int64(req.estInputTokens()),
		OutputTokens: int64(req.maxTokens),
		CostUSD:      decision.EstimatedUSD,
		BaselineUSD:  decision.BaselineUSD,
		SavingsUSD:   decision.BaselineUSD - decision.EstimatedUSD,
		LatencyMS:    latency.Milliseconds(),
		Status:       status,
	}
	if rec.SavingsUSD < 0 {
		rec.SavingsUSD = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.usage.LogRequest(ctx, rec); err != nil {
		s.log.Error("usage log write failed", "error", err)
	}
}

func cloneMessages(msgs []prompt.Message) []prompt.Message {
	out := make([]prompt.Message, len(msgs))
	copy(out, msgs)
	return out
}

// --- small HTTP helpers ---

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(io.LimitReader(r.Body, 32<<20))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func copyResponse(w http.ResponseWriter, resp *payment.Response) {
	for k, vs := range resp.Header {
		// Hop-by-hop and payment negotiation headers stay internal.
		lk := strings.ToLower(k)
		if lk == "connection" || lk == "transfer-encoding" || lk == payment.RequiredHeader {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func forwardHeaders(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, h := range []string{"Content-Type", "Accept", "User-Agent"} {
		if v := r.Header.Get(h); v != "" {
			out[h] = v
		}
	}
	return out
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
