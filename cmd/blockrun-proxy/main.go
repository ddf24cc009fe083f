package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockrun/proxy/internal/app"
	"github.com/blockrun/proxy/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	adoptRetries  = 5
	adoptInterval = time.Second
)

// runHealthCheck performs an HTTP health check against the given address.
func runHealthCheck(addr string) error {
	resp, err := http.Get(healthURL(addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func healthURL(addr string) string {
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

// probeOwnService reports whether the process already bound to addr is
// another instance of this proxy, identified by its health payload.
func probeOwnService(addr string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(addr))
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Status string `json:"status"`
		Wallet string `json:"wallet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "ok"
}

// listenWithAdoption binds addr. When the port is taken it probes whether
// the occupant is an earlier instance of this proxy: if so the new process
// defers to it instead of failing; otherwise it retries briefly in case the
// old holder is mid-shutdown.
func listenWithAdoption(addr string) (net.Listener, bool, error) {
	var lastErr error
	for i := 0; i < adoptRetries; i++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, false, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, false, err
		}
		lastErr = err
		if probeOwnService(addr) {
			return nil, true, nil
		}
		time.Sleep(adoptInterval)
	}
	return nil, false, fmt.Errorf("address %s still busy after %d attempts: %w", addr, adoptRetries, lastErr)
}

func main() {
	// Built-in health check mode for Docker HEALTHCHECK (distroless has no curl).
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		addr := os.Getenv("BLOCKRUN_LISTEN_ADDR")
		if addr == "" {
			addr = "127.0.0.1:8402"
		}
		if err := runHealthCheck(addr); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	log.Printf("blockrun-proxy version %s", version)
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ln, adopted, err := listenWithAdoption(cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}
	if adopted {
		log.Printf("another blockrun-proxy already serves %s, deferring to it", cfg.ListenAddr)
		os.Exit(0)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	httpServer := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // allow long streaming responses
	}

	go func() {
		log.Printf("blockrun-proxy listening on %s", cfg.ListenAddr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve error: %v", err)
		}
	}()

	// SIGHUP: re-read the environment and apply the log level live.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			log.Printf("SIGHUP received, reloading log level...")
			newCfg, err := app.LoadConfig()
			if err != nil {
				log.Printf("config reload error: %v (keeping current settings)", err)
				continue
			}
			logging.SetLevel(newCfg.LogLevel)
		}
	}()

	// Graceful shutdown: drain in-flight requests, then close resources.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("shutting down (draining in-flight requests)...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("server close error: %v", err)
	}
	log.Printf("shutdown complete")
}
