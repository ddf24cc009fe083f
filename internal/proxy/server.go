// Package proxy is the request-routing core: it mounts the HTTP surface,
// classifies and routes chat completions, handles payments, streaming,
// dedup, caching, and fallback across upstream models.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blockrun/proxy/internal/balance"
	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/cooldown"
	"github.com/blockrun/proxy/internal/dedup"
	"github.com/blockrun/proxy/internal/degraded"
	"github.com/blockrun/proxy/internal/logging"
	"github.com/blockrun/proxy/internal/metrics"
	"github.com/blockrun/proxy/internal/models"
	"github.com/blockrun/proxy/internal/payment"
	"github.com/blockrun/proxy/internal/ratelimit"
	"github.com/blockrun/proxy/internal/respcache"
	"github.com/blockrun/proxy/internal/routecfg"
	"github.com/blockrun/proxy/internal/session"
	"github.com/blockrun/proxy/internal/tracing"
	"github.com/blockrun/proxy/internal/usage"
)

// Config carries the proxy-level knobs. Zero values take documented
// defaults.
type Config struct {
	UpstreamBaseURL string
	WalletAddress   string

	SessionHeader  string // default "x-session-id"
	SessionEnabled bool

	CacheEnabled bool

	// Classification overrides.
	MaxTokensForceComplex   int             // default 100000
	StructuredOutputMinTier classifier.Tier // default Medium
	AmbiguousDefaultTier    string          // tier name for low-confidence results; default "medium"
	AgenticMode             string          // "auto" (default), "on", "off"

	DefaultMaxTokens int           // default 1024
	AttemptTimeout   time.Duration // default 180s

	// Inbound per-IP rate limit. Zero disables it; a loopback-only proxy
	// does not need one.
	RateLimitRPS   int
	RateLimitBurst int

	Degraded degraded.Config
}

func (c Config) withDefaults() Config {
	if c.SessionHeader == "" {
		c.SessionHeader = "x-session-id"
	}
	if c.MaxTokensForceComplex <= 0 {
		c.MaxTokensForceComplex = 100_000
	}
	if c.StructuredOutputMinTier == 0 {
		c.StructuredOutputMinTier = classifier.Medium
	}
	if c.AgenticMode == "" {
		c.AgenticMode = "auto"
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = 1024
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 180 * time.Second
	}
	return c
}

// Server holds every collaborator the request pipeline touches.
type Server struct {
	log      *slog.Logger
	metrics  *metrics.Registry
	registry *models.Registry
	routes   *routecfg.Loader
	payments *payment.Client
	balance  *balance.Monitor
	dedup    *dedup.Deduper
	cache    *respcache.Cache
	sessions *session.Store
	cooldown *cooldown.Tracker
	limiter  *ratelimit.Limiter
	usage    *usage.Store

	cfg Config

	// onLowBalance is invoked when a paid request is downgraded to the
	// free model for lack of funds. Optional.
	onLowBalance func(balance.Info)
}

type Deps struct {
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	Registry *models.Registry
	Routes   *routecfg.Loader
	Payments *payment.Client
	Balance  *balance.Monitor
	Usage    *usage.Store

	OnLowBalance func(balance.Info)
}

func NewServer(deps Deps, cfg Config) *Server {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Registry == nil {
		deps.Registry = models.Default()
	}
	s := &Server{
		log:          deps.Logger,
		metrics:      deps.Metrics,
		registry:     deps.Registry,
		routes:       deps.Routes,
		payments:     deps.Payments,
		balance:      deps.Balance,
		usage:        deps.Usage,
		dedup:        dedup.New(),
		cache:        respcache.New(respcache.DefaultTTL, respcache.DefaultMaxEntries),
		cooldown:     cooldown.NewTracker(),
		cfg:          cfg,
		onLowBalance: deps.OnLowBalance,
	}
	if cfg.SessionEnabled {
		s.sessions = session.NewStore()
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitRPS * 2
		}
		s.limiter = ratelimit.New(cfg.RateLimitRPS, burst, time.Second)
	}
	return s
}

// Close releases background goroutines. Pending dedup waiters are failed so
// nothing hangs across shutdown.
func (s *Server) Close() {
	s.dedup.Close()
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// Routes builds the chi router with the teacher middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(s.log))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(s.metrics.RateLimited))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/cache", s.handleCacheStats)
	r.Delete("/cache", s.handleCachePurge)
	r.Get("/stats", s.handleStats)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Get("/v1/models", s.handleModels)

	r.HandleFunc("/v1/x/*", s.handleTransparent)
	r.HandleFunc("/v1/partner/*", s.handleTransparent)

	r.Post("/v1/chat/completions", s.handleChat)
	r.Post("/v1/*", s.handleChat)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, ErrTypeProxyError, "unknown path "+req.URL.Path)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"wallet": s.cfg.WalletAddress,
	}
	if r.URL.Query().Get("full") == "true" && s.balance != nil {
		info, err := s.balance.Info(r.Context())
		if err != nil {
			resp["balance_error"] = err.Error()
		} else {
			resp["balance_usd"] = info.BalanceUSD
			resp["is_low"] = info.IsLow
			resp["is_empty"] = info.IsEmpty
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	inflight, completed := s.dedup.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"response_cache": s.cache.Stats(),
		"dedup": map[string]int{
			"inflight":  inflight,
			"completed": completed,
		},
	})
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"purged": s.cache.Purge()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusNotFound, ErrTypeProxyError, "usage log disabled")
		return
	}
	days := 7
	if q := r.URL.Query().Get("days"); q != "" {
		if n, err := parsePositiveInt(q); err == nil {
			days = n
		}
	}
	sum, err := s.usage.Aggregate(r.Context(), days)
	if err != nil {
		s.log.Error("usage aggregate failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrTypeProxyError, "usage aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	data := make([]map[string]any, 0, len(list))
	for _, m := range list {
		data = append(data, map[string]any{
			"id":             m.ID,
			"object":         "model",
			"owned_by":       strings.SplitN(m.ID, "/", 2)[0],
			"context_window": m.ContextWindow,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// handleTransparent forwards /v1/x/* and /v1/partner/* through the payment
// layer with no routing logic. The upstream decides whether payment is
// needed.
func (s *Server) handleTransparent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeProxyError, "unreadable request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AttemptTimeout)
	defer cancel()

	resp, err := s.payments.Do(ctx, r.Method, s.cfg.UpstreamBaseURL+r.URL.Path, body, forwardHeaders(r), "")
	if err != nil {
		s.log.Error("transparent proxy failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, ErrTypeProviderError, "upstream request failed")
		return
	}
	if payErr := transformPaymentError(resp.Body, s.cfg.WalletAddress); resp.Status == http.StatusPaymentRequired && payErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write(payErr)
		return
	}
	copyResponse(w, resp)
}
