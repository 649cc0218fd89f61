package rpcpool

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client is the per-endpoint chain client surface the manager needs.
// *rpc.Client satisfies it; tests substitute fakes.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTransactionCount(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Health thresholds. An endpoint is marked unhealthy once it has more
// than maxErrors errors and its error rate exceeds maxErrorRate; it is
// retried again retryAfter past its last error, and fully recovers when
// a success lands recoverAfter past the last error.
const (
	maxErrors    = 5
	maxErrorRate = 0.1
	retryAfter   = 60 * time.Second
	recoverAfter = 5 * time.Minute
)

// endpoint tracks one RPC endpoint's health. All mutation happens under
// the manager's write lock, keyed by index rather than handle identity.
type endpoint struct {
	url          string
	client       Client
	healthy      bool
	lastError    time.Time // zero when no error has occurred
	requestCount uint64
	errorCount   uint64
}

func newEndpoint(url string, client Client) *endpoint {
	return &endpoint{url: url, client: client, healthy: true}
}

func (e *endpoint) markSuccess(now time.Time) {
	e.requestCount++
	if !e.lastError.IsZero() && now.Sub(e.lastError) > recoverAfter {
		e.healthy = true
		e.errorCount = 0
	}
}

func (e *endpoint) markError(now time.Time) {
	e.errorCount++
	e.lastError = now
	if e.errorCount > maxErrors && e.requestCount > 0 &&
		float64(e.errorCount)/float64(e.requestCount) > maxErrorRate {
		e.healthy = false
	}
}

func (e *endpoint) shouldRetry(now time.Time) bool {
	if e.healthy {
		return true
	}
	if e.lastError.IsZero() {
		return true
	}
	return now.Sub(e.lastError) > retryAfter
}
