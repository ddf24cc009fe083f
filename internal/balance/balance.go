// Package balance tracks the proxy wallet's USDC balance and derives the
// low/empty states the router uses to downgrade or block paid requests.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// ErcClient reads an ERC-20 balance for an address. The JSON-RPC
// implementation lives in internal/wallet.
type ErcClient interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
}

// RPCError wraps a chain read failure so callers can distinguish "node is
// down" from "balance is empty".
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc %s: %v", e.Op, e.Err) }
func (e *RPCError) Unwrap() error { return e.Err }

// Balances are denominated in the token's smallest unit (USDC: 6 decimals).
const (
	// LowThreshold is $1.00.
	LowThreshold = 1_000_000
	// EmptyThreshold is $0.0001; below this paid requests are pointless.
	EmptyThreshold = 100

	DefaultCacheTTL = 30 * time.Second
)

// Info is a point-in-time balance snapshot.
type Info struct {
	Balance       *big.Int  `json:"balance"`
	BalanceUSD    float64   `json:"balance_usd"`
	IsLow         bool      `json:"is_low"`
	IsEmpty       bool      `json:"is_empty"`
	WalletAddress string    `json:"wallet_address"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Monitor caches the on-chain balance for a short window so the hot path
// never waits on an RPC round trip more than once per interval.
type Monitor struct {
	client ErcClient
	log    *slog.Logger

	token  string
	wallet string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	cached   *Info
	reserved *big.Int // estimates deducted since the last fetch
}

func NewMonitor(client ErcClient, log *slog.Logger, token, wallet string, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		client:   client,
		log:      log,
		token:    token,
		wallet:   wallet,
		ttl:      ttl,
		now:      time.Now,
		reserved: new(big.Int),
	}
}

// Info returns the current snapshot, hitting the chain only when the cached
// value is older than the TTL. On RPC failure a stale snapshot is served if
// one exists; otherwise the error propagates.
func (m *Monitor) Info(ctx context.Context) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.now().Sub(m.cached.FetchedAt) < m.ttl {
		return m.effective(), nil
	}

	raw, err := m.client.BalanceOf(ctx, m.token, m.wallet)
	if err != nil {
		if m.cached != nil {
			m.log.Warn("balance refresh failed, serving stale snapshot",
				"wallet", m.wallet, "error", err)
			return m.effective(), nil
		}
		return Info{}, &RPCError{Op: "balanceOf", Err: err}
	}

	m.cached = &Info{
		Balance:       raw,
		WalletAddress: m.wallet,
		FetchedAt:     m.now(),
	}
	m.reserved.SetInt64(0)
	info := m.effective()
	if info.IsEmpty {
		m.log.Warn("wallet balance empty", "wallet", m.wallet, "balance_usd", info.BalanceUSD)
	} else if info.IsLow {
		m.log.Info("wallet balance low", "wallet", m.wallet, "balance_usd", info.BalanceUSD)
	}
	return info, nil
}

// effective derives the externally visible snapshot with in-flight estimates
// deducted. Caller holds mu.
func (m *Monitor) effective() Info {
	bal := new(big.Int).Sub(m.cached.Balance, m.reserved)
	if bal.Sign() < 0 {
		bal.SetInt64(0)
	}
	usd, _ := new(big.Float).Quo(new(big.Float).SetInt(bal), big.NewFloat(1e6)).Float64()
	return Info{
		Balance:       bal,
		BalanceUSD:    usd,
		IsLow:         bal.Cmp(big.NewInt(LowThreshold)) < 0,
		IsEmpty:       bal.Cmp(big.NewInt(EmptyThreshold)) < 0,
		WalletAddress: m.cached.WalletAddress,
		FetchedAt:     m.cached.FetchedAt,
	}
}

// Sufficient reports whether the effective balance covers the estimate. An
// unknown balance (no snapshot yet and RPC down) is treated as sufficient so
// the chain, not the proxy, gets the final word.
func (m *Monitor) Sufficient(ctx context.Context, estimate *big.Int) bool {
	info, err := m.Info(ctx)
	if err != nil {
		return true
	}
	if info.IsEmpty {
		return false
	}
	if estimate == nil {
		return true
	}
	return info.Balance.Cmp(estimate) >= 0
}

// DeductEstimated reserves an estimated spend against the cached snapshot so
// parallel requests inside one cache window don't all see the pre-spend
// balance.
func (m *Monitor) DeductEstimated(estimate *big.Int) {
	if estimate == nil || estimate.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved.Add(m.reserved, estimate)
}

// Invalidate drops the cached snapshot; the next Info call refetches.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.reserved.SetInt64(0)
}
