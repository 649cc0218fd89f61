// Package rpcpool presents a small facade of chain operations over a
// pool of RPC endpoints with per-endpoint health, round-robin failover
// and exponential-backoff retry.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
	"github.com/fairyhunter13/solcron-keeper/internal/observability"
)

// EndpointHealth is a read-only snapshot of one endpoint's counters.
type EndpointHealth struct {
	URL          string `json:"url"`
	Healthy      bool   `json:"healthy"`
	RequestCount uint64 `json:"request_count"`
	ErrorCount   uint64 `json:"error_count"`
}

// Manager owns the endpoint pool. The mutex guards only counter and
// cursor state; it is never held across a network call.
type Manager struct {
	mu        sync.RWMutex
	endpoints []*endpoint
	cursor    int

	maxRetries     uint32
	requestTimeout time.Duration
	baseDelay      time.Duration
	now            func() time.Time
}

// Option tweaks a Manager, mainly for tests.
type Option func(*Manager)

// WithClock substitutes the time source used for health bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBaseDelay overrides the 1s base retry delay.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Manager) { m.baseDelay = d }
}

// New builds a manager over the given endpoint URLs, primary first.
func New(urls []string, maxRetries uint32, requestTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
		baseDelay:      time.Second,
		now:            time.Now,
	}
	for _, u := range urls {
		m.endpoints = append(m.endpoints, newEndpoint(u, rpc.New(u)))
	}
	for _, o := range opts {
		o(m)
	}
	slog.Info("initialized RPC manager", slog.Int("endpoints", len(m.endpoints)))
	return m
}

// NewWithClients builds a manager over pre-constructed clients, used by
// tests to inject fakes.
func NewWithClients(urls []string, clients []Client, maxRetries uint32, requestTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
		baseDelay:      time.Second,
		now:            time.Now,
	}
	for i, u := range urls {
		m.endpoints = append(m.endpoints, newEndpoint(u, clients[i]))
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// pick returns the next endpoint whose shouldRetry is true, advancing
// the round-robin cursor. When none qualifies it falls back to the
// first endpoint; the pool never refuses a caller.
func (m *Manager) pick() (int, Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for range m.endpoints {
		idx := m.cursor
		m.cursor = (m.cursor + 1) % len(m.endpoints)
		if m.endpoints[idx].shouldRetry(now) {
			return idx, m.endpoints[idx].client
		}
	}
	slog.Warn("no healthy RPC endpoints available, using first endpoint")
	return 0, m.endpoints[0].client
}

func (m *Manager) markSuccess(idx int) {
	m.mu.Lock()
	m.endpoints[idx].markSuccess(m.now())
	url := m.endpoints[idx].url
	m.mu.Unlock()
	observability.RPCRequestsTotal.WithLabelValues(url, "success").Inc()
}

func (m *Manager) markError(idx int) {
	m.mu.Lock()
	ep := m.endpoints[idx]
	ep.markError(m.now())
	url, healthy := ep.url, ep.healthy
	m.mu.Unlock()
	observability.RPCRequestsTotal.WithLabelValues(url, "error").Inc()
	if !healthy {
		slog.Warn("RPC endpoint marked unhealthy", slog.String("url", url))
	}
}

// execute runs op with up to maxRetries+1 attempts, rotating endpoints
// between attempts and doubling the delay from baseDelay. On
// exhaustion the last underlying error is returned.
func (m *Manager) execute(ctx context.Context, op func(context.Context, Client) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		idx, cl := m.pick()
		callCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		err := op(callCtx, cl)
		cancel()
		if err != nil {
			m.markError(idx)
			slog.Warn("RPC request failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", int(m.maxRetries)+1),
				slog.Any("error", err))
			return err
		}
		m.markSuccess(idx)
		return nil
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(m.maxRetries)))
	if err != nil {
		return fmt.Errorf("op=rpc.execute: %w: %w", domain.ErrRPC, err)
	}
	return nil
}

// LatestBlockhash fetches a fresh blockhash at confirmed commitment.
func (m *Manager) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var out solana.Hash
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		res, err := cl.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get latest blockhash: %w", err)
		}
		out = res.Value.Blockhash
		return nil
	})
	return out, err
}

// SendAndConfirm submits a signed transaction and polls its signature
// status until it reaches confirmed commitment within the request
// timeout of the attempt.
func (m *Manager) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var out solana.Signature
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		sig, err := cl.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		if err := waitConfirmed(ctx, cl, sig); err != nil {
			return err
		}
		out = sig
		return nil
	})
	return out, err
}

func waitConfirmed(ctx context.Context, cl Client, sig solana.Signature) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		res, err := cl.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: transaction %s failed on chain: %v", domain.ErrTransaction, sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timed out for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Simulate dry-runs a signed transaction against current state.
func (m *Manager) Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	var out *rpc.SimulateTransactionResult
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		res, err := cl.SimulateTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to simulate transaction: %w", err)
		}
		out = res.Value
		return nil
	})
	return out, err
}

// GetAccount fetches one account. A not-found response is a successful
// nil, not an error.
func (m *Manager) GetAccount(ctx context.Context, key solana.PublicKey) (*rpc.Account, error) {
	var out *rpc.Account
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		res, err := cl.GetAccountInfo(ctx, key)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				out = nil
				return nil
			}
			return fmt.Errorf("failed to get account: %w", err)
		}
		out = res.Value
		return nil
	})
	return out, err
}

// GetMultipleAccounts fetches several accounts; absent accounts come
// back as nil entries.
func (m *Manager) GetMultipleAccounts(ctx context.Context, keys ...solana.PublicKey) ([]*rpc.Account, error) {
	var out []*rpc.Account
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		res, err := cl.GetMultipleAccounts(ctx, keys...)
		if err != nil {
			return fmt.Errorf("failed to get multiple accounts: %w", err)
		}
		out = res.Value
		return nil
	})
	return out, err
}

// GetBalance returns an account's lamport balance.
func (m *Manager) GetBalance(ctx context.Context, key solana.PublicKey) (uint64, error) {
	var out uint64
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		res, err := cl.GetBalance(ctx, key, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get balance: %w", err)
		}
		out = res.Value
		return nil
	})
	return out, err
}

// GetTransactionCount returns the cluster transaction count.
func (m *Manager) GetTransactionCount(ctx context.Context) (uint64, error) {
	var out uint64
	err := m.execute(ctx, func(ctx context.Context, cl Client) error {
		n, err := cl.GetTransactionCount(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get transaction count: %w", err)
		}
		out = n
		return nil
	})
	return out, err
}

// AccountExists implements domain.AccountReader for the conditional
// trigger evaluator.
func (m *Manager) AccountExists(ctx context.Context, address string) (bool, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("op=rpc.account_exists: %w: invalid public key %q", domain.ErrInvalidTrigger, address)
	}
	acct, err := m.GetAccount(ctx, key)
	if err != nil {
		return false, err
	}
	return acct != nil, nil
}

// HealthStatus snapshots every endpoint's counters.
func (m *Manager) HealthStatus() []EndpointHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EndpointHealth, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, EndpointHealth{
			URL:          ep.url,
			Healthy:      ep.healthy,
			RequestCount: ep.requestCount,
			ErrorCount:   ep.errorCount,
		})
	}
	return out
}

// ResetHealth clears all endpoint error state.
func (m *Manager) ResetHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range m.endpoints {
		ep.healthy = true
		ep.errorCount = 0
		ep.lastError = time.Time{}
	}
	slog.Info("reset health status for all RPC endpoints")
}
