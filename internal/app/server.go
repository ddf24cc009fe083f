// Package app wires configuration, logging, tracing, and every proxy
// collaborator into a runnable server.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/blockrun/proxy/internal/balance"
	"github.com/blockrun/proxy/internal/logging"
	"github.com/blockrun/proxy/internal/metrics"
	"github.com/blockrun/proxy/internal/models"
	"github.com/blockrun/proxy/internal/payment"
	"github.com/blockrun/proxy/internal/proxy"
	"github.com/blockrun/proxy/internal/routecfg"
	"github.com/blockrun/proxy/internal/tracing"
	"github.com/blockrun/proxy/internal/usage"
	"github.com/blockrun/proxy/internal/wallet"
)

type Server struct {
	cfg Config

	proxy  *proxy.Server
	usage  *usage.Store
	logger *slog.Logger

	routeStop chan struct{}
	traceStop func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceStop, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: "blockrun-proxy",
	})
	if err != nil {
		return nil, err
	}

	registry := models.Default()

	loader, err := routecfg.NewLoader(logger, cfg.RoutingConfigPath, registry)
	if err != nil {
		return nil, err
	}
	routeStop := make(chan struct{})
	go func() {
		if err := loader.Watch(routeStop); err != nil {
			logger.Error("routing config watch stopped", "error", err)
		}
	}()

	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.AttemptTimeoutSecs) * time.Second,
		Transport: tracing.HTTPTransport(nil),
	}

	signer := wallet.NewRemoteSigner(httpClient, cfg.SignerURL, cfg.WalletAddress)
	payments := payment.NewClient(httpClient, signer, payment.NewCache(time.Hour))

	var monitor *balance.Monitor
	if cfg.RPCURL != "" && cfg.WalletAddress != "" {
		rpc := wallet.NewRPCClient(httpClient, cfg.RPCURL)
		monitor = balance.NewMonitor(rpc, logger, cfg.USDCAddress, cfg.WalletAddress, balance.DefaultCacheTTL)
	}

	var usageStore *usage.Store
	if cfg.UsageDSN != "" {
		usageStore, err = usage.Open(cfg.UsageDSN)
		if err != nil {
			close(routeStop)
			return nil, err
		}
		logger.Info("usage log opened", slog.String("dsn", cfg.UsageDSN))
	}

	m := metrics.New()

	p := proxy.NewServer(proxy.Deps{
		Logger:   logger,
		Metrics:  m,
		Registry: registry,
		Routes:   loader,
		Payments: payments,
		Balance:  monitor,
		Usage:    usageStore,
		OnLowBalance: func(info balance.Info) {
			logger.Warn("wallet balance low, requests downgraded to free model",
				slog.Float64("balance_usd", info.BalanceUSD),
				slog.String("wallet", info.WalletAddress))
		},
	}, proxy.Config{
		UpstreamBaseURL:       cfg.UpstreamBaseURL,
		WalletAddress:         cfg.WalletAddress,
		SessionHeader:         cfg.SessionHeader,
		SessionEnabled:        cfg.SessionEnabled,
		CacheEnabled:          cfg.CacheEnabled,
		MaxTokensForceComplex: cfg.MaxTokensForceComplex,
		AmbiguousDefaultTier:  cfg.AmbiguousDefaultTier,
		AgenticMode:           cfg.AgenticMode,
		DefaultMaxTokens:      cfg.DefaultMaxTokens,
		AttemptTimeout:        time.Duration(cfg.AttemptTimeoutSecs) * time.Second,
		RateLimitRPS:          cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
	})

	return &Server{
		cfg:       cfg,
		proxy:     p,
		usage:     usageStore,
		logger:    logger,
		routeStop: routeStop,
		traceStop: traceStop,
	}, nil
}

func (s *Server) Router() http.Handler { return s.proxy.Routes() }

func (s *Server) Logger() *slog.Logger { return s.logger }

func (s *Server) Close() error {
	close(s.routeStop)
	s.proxy.Close()
	if s.traceStop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceStop(ctx)
	}
	if s.usage != nil {
		return s.usage.Close()
	}
	return nil
}
