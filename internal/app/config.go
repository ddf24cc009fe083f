package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	UpstreamBaseURL string

	// Wallet and payment plumbing.
	WalletAddress string
	SignerURL     string
	RPCURL        string
	USDCAddress   string

	UsageDSN string

	RoutingConfigPath string

	SessionEnabled bool
	SessionHeader  string
	CacheEnabled   bool

	DefaultMaxTokens      int
	MaxTokensForceComplex int
	AttemptTimeoutSecs    int

	AmbiguousDefaultTier string
	AgenticMode          string

	// Inbound per-IP rate limit; 0 disables (the default for loopback).
	RateLimitRPS   int
	RateLimitBurst int

	OtelEnabled  bool
	OtelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("BLOCKRUN_LISTEN_ADDR", "127.0.0.1:8402"),
		LogLevel:   getEnv("BLOCKRUN_LOG_LEVEL", "info"),

		UpstreamBaseURL: getEnv("BLOCKRUN_UPSTREAM_URL", "https://api.blockrun.ai"),

		WalletAddress: getEnv("BLOCKRUN_WALLET_ADDRESS", ""),
		SignerURL:     getEnv("BLOCKRUN_SIGNER_URL", "http://127.0.0.1:8403"),
		RPCURL:        getEnv("BLOCKRUN_RPC_URL", "https://mainnet.base.org"),
		USDCAddress:   getEnv("BLOCKRUN_USDC_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),

		UsageDSN: getEnv("BLOCKRUN_USAGE_DSN", "file:blockrun-usage.sqlite"),

		RoutingConfigPath: getEnv("BLOCKRUN_ROUTING_CONFIG", ""),

		SessionEnabled: getEnvBool("BLOCKRUN_SESSIONS_ENABLED", true),
		SessionHeader:  getEnv("BLOCKRUN_SESSION_HEADER", "x-session-id"),
		CacheEnabled:   getEnvBool("BLOCKRUN_CACHE_ENABLED", true),

		DefaultMaxTokens:      getEnvInt("BLOCKRUN_DEFAULT_MAX_TOKENS", 1024),
		MaxTokensForceComplex: getEnvInt("BLOCKRUN_MAX_TOKENS_FORCE_COMPLEX", 100_000),
		AttemptTimeoutSecs:    getEnvInt("BLOCKRUN_ATTEMPT_TIMEOUT_SECS", 180),

		AmbiguousDefaultTier: getEnv("BLOCKRUN_AMBIGUOUS_TIER", "medium"),
		AgenticMode:          getEnv("BLOCKRUN_AGENTIC_MODE", "auto"),

		RateLimitRPS:   getEnvInt("BLOCKRUN_RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvInt("BLOCKRUN_RATE_LIMIT_BURST", 0),

		OtelEnabled:  getEnvBool("BLOCKRUN_OTEL_ENABLED", false),
		OtelEndpoint: getEnv("BLOCKRUN_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("BLOCKRUN_UPSTREAM_URL must not be empty")
	}
	if !strings.HasPrefix(c.UpstreamBaseURL, "http://") && !strings.HasPrefix(c.UpstreamBaseURL, "https://") {
		return fmt.Errorf("BLOCKRUN_UPSTREAM_URL must be an http(s) URL, got %q", c.UpstreamBaseURL)
	}
	if c.WalletAddress != "" && (!strings.HasPrefix(c.WalletAddress, "0x") || len(c.WalletAddress) != 42) {
		return fmt.Errorf("BLOCKRUN_WALLET_ADDRESS must be a 0x-prefixed hex40 address, got %q", c.WalletAddress)
	}
	if c.DefaultMaxTokens <= 0 {
		return fmt.Errorf("BLOCKRUN_DEFAULT_MAX_TOKENS must be > 0, got %d", c.DefaultMaxTokens)
	}
	if c.MaxTokensForceComplex <= 0 {
		return fmt.Errorf("BLOCKRUN_MAX_TOKENS_FORCE_COMPLEX must be > 0, got %d", c.MaxTokensForceComplex)
	}
	if c.AttemptTimeoutSecs <= 0 {
		return fmt.Errorf("BLOCKRUN_ATTEMPT_TIMEOUT_SECS must be > 0, got %d", c.AttemptTimeoutSecs)
	}
	switch c.AgenticMode {
	case "", "auto", "on", "off":
	default:
		return fmt.Errorf("BLOCKRUN_AGENTIC_MODE must be auto, on, or off, got %q", c.AgenticMode)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
