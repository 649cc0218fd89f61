// Package app wires the keeper's components together and supervises
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/solcron-keeper/internal/adapter/chain/rpcpool"
	"github.com/fairyhunter13/solcron-keeper/internal/adapter/chain/txbuild"
	"github.com/fairyhunter13/solcron-keeper/internal/adapter/chain/wallet"
	"github.com/fairyhunter13/solcron-keeper/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/solcron-keeper/internal/config"
	"github.com/fairyhunter13/solcron-keeper/internal/domain"
	"github.com/fairyhunter13/solcron-keeper/internal/observability"
	"github.com/fairyhunter13/solcron-keeper/internal/usecase"
)

// executionChannelSize bounds the monitor-to-executor channel; the
// monitor surfaces an error instead of blocking when it fills.
const executionChannelSize = 1024

// KeeperNode owns the full pipeline: database, RPC pool, monitor and
// executor, plus the registry-facing operations the CLI exposes.
type KeeperNode struct {
	cfg config.Config
	key solana.PrivateKey

	pool       *pgxpool.Pool
	jobs       *postgres.JobRepo
	executions *postgres.ExecutionRepo
	stats      *postgres.StatsRepo
	cleanup    *postgres.CleanupService

	rpc      *rpcpool.Manager
	engine   *txbuild.Builder
	monitor  *usecase.JobMonitor
	executor *usecase.JobExecutor
	requests chan domain.ExecutionRequest
}

// KeeperStatus reports the keeper's registry standing. On-chain
// registry reads are not wired yet, so the numbers past the address and
// stake are representative placeholders.
type KeeperStatus struct {
	Address              string `json:"address"`
	IsActive             bool   `json:"is_active"`
	StakeAmount          uint64 `json:"stake_amount"`
	ReputationScore      uint64 `json:"reputation_score"`
	SuccessfulExecutions uint64 `json:"successful_executions"`
	FailedExecutions     uint64 `json:"failed_executions"`
	TotalEarnings        uint64 `json:"total_earnings"`
	PendingRewards       uint64 `json:"pending_rewards"`
}

// HealthStatus is the live view of the node's moving parts.
type HealthStatus struct {
	RPCEndpoints      []rpcpool.EndpointHealth `json:"rpc_endpoints"`
	DatabaseConnected bool                     `json:"database_connected"`
	JobCache          usecase.CacheStats       `json:"job_cache"`
	ExecutionQueue    QueueStatus              `json:"execution_queue"`
}

// QueueStatus summarizes the execution queue.
type QueueStatus struct {
	Size            int    `json:"queue_size"`
	HighestPriority string `json:"highest_priority"`
}

// New builds a fully wired keeper node: it loads the wallet, connects
// and migrates the database, and constructs the RPC pool, transaction
// engine, monitor and executor.
func New(ctx context.Context, cfg config.Config) (*KeeperNode, error) {
	slog.Info("initializing keeper node")

	key, err := wallet.Load(cfg.Keeper.WalletPath)
	if err != nil {
		return nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.MaxDBConnections(), cfg.DBTimeout())
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	rpcMgr := rpcpool.New(cfg.RPCURLs(), cfg.MaxRPCRetries(), cfg.RequestTimeout())

	engine, err := txbuild.New("", key, rpcMgr, nil)
	if err != nil {
		pool.Close()
		return nil, err
	}

	jobs := postgres.NewJobRepo(pool)
	executions := postgres.NewExecutionRepo(pool)
	stats := postgres.NewStatsRepo(pool)

	requests := make(chan domain.ExecutionRequest, executionChannelSize)
	evaluator := usecase.NewTriggerEvaluator(rpcMgr)
	monitor := usecase.NewJobMonitor(usecase.MonitorConfig{
		PollInterval:  cfg.PollInterval(),
		CacheTTL:      cfg.JobCacheTTL(),
		MaxConcurrent: int64(cfg.Monitoring.MaxConcurrentJobs),
	}, jobs, evaluator, requests)
	executor := usecase.NewJobExecutor(usecase.ExecutorConfig{
		MaxRetries:        cfg.Execution.MaxRetries,
		RetryDelay:        cfg.RetryDelay(),
		SimulationEnabled: cfg.SimulationEnabled(),
		KeeperAddress:     engine.KeeperAddress(),
	}, engine, executions, stats, requests)

	slog.Info("keeper node initialized", slog.String("keeper", engine.KeeperAddress()))
	return &KeeperNode{
		cfg:        cfg,
		key:        key,
		pool:       pool,
		jobs:       jobs,
		executions: executions,
		stats:      stats,
		cleanup:    postgres.NewCleanupService(pool, 0),
		rpc:        rpcMgr,
		engine:     engine,
		monitor:    monitor,
		executor:   executor,
		requests:   requests,
	}, nil
}

// Start runs the monitor, executor, data retention sweep and the
// optional metrics server until ctx is cancelled, then shuts the
// pipeline down in order: monitor first so no new work is produced,
// executor second so queued work drains its current item.
func (n *KeeperNode) Start(ctx context.Context) error {
	observability.InitMetrics()

	monCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	execCtx, cancelExecutor := context.WithCancel(context.Background())
	defer cancelExecutor()

	monDone := make(chan error, 1)
	execDone := make(chan error, 1)
	go func() { monDone <- n.monitor.Run(monCtx) }()
	go func() { execDone <- n.executor.Run(execCtx) }()
	go n.cleanup.RunPeriodic(monCtx, time.Hour)

	var metricsSrv *metricsServer
	if n.cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(n, n.cfg.MetricsPort())
		go metricsSrv.run()
	}

	slog.Info("keeper node started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-monDone:
		monDone = nil
		if runErr != nil {
			slog.Error("monitor exited", slog.Any("error", runErr))
		}
	case runErr = <-execDone:
		execDone = nil
		if runErr != nil {
			slog.Error("executor exited", slog.Any("error", runErr))
		}
	}

	slog.Info("shutting down keeper node")
	cancelMonitor()
	if monDone != nil {
		<-monDone
	}
	cancelExecutor()
	if execDone != nil {
		<-execDone
	}
	if metricsSrv != nil {
		metricsSrv.shutdown()
	}
	n.pool.Close()
	slog.Info("keeper node shutdown complete")
	return runErr
}

// RegisterKeeper stakes the keeper into the registry. The on-chain
// register_keeper instruction is not wired yet; the returned signature
// is simulated.
func (n *KeeperNode) RegisterKeeper(stakeAmount uint64) (string, error) {
	slog.Info("registering keeper", slog.Uint64("stake_lamports", stakeAmount))
	signature := fmt.Sprintf("keeper_registration_%s", n.key.PublicKey())
	slog.Info("keeper registration simulated", slog.String("signature", signature))
	return signature, nil
}

// ClaimRewards claims accumulated execution rewards. Simulated until
// the claim_rewards instruction is wired.
func (n *KeeperNode) ClaimRewards() (string, error) {
	slog.Info("claiming keeper rewards")
	signature := "reward_claim_simulation"
	slog.Info("rewards claim simulated", slog.String("signature", signature))
	return signature, nil
}

// UnregisterKeeper withdraws the keeper from the registry. Simulated
// until the unregister_keeper instruction is wired.
func (n *KeeperNode) UnregisterKeeper() (string, error) {
	slog.Info("unregistering keeper")
	signature := "keeper_unregistration_simulation"
	slog.Info("keeper unregistration simulated", slog.String("signature", signature))
	return signature, nil
}

// Status reports the keeper's registry standing.
func (n *KeeperNode) Status() KeeperStatus {
	return KeeperStatus{
		Address:              n.key.PublicKey().String(),
		IsActive:             true,
		StakeAmount:          n.cfg.Keeper.StakeAmount,
		ReputationScore:      7500,
		SuccessfulExecutions: 150,
		FailedExecutions:     5,
		TotalEarnings:        50_000_000,
		PendingRewards:       10_000_000,
	}
}

// Health snapshots endpoint health, database connectivity, cache and
// queue state.
func (n *KeeperNode) Health(ctx context.Context) HealthStatus {
	size, top := n.executor.QueueStats()
	return HealthStatus{
		RPCEndpoints:      n.rpc.HealthStatus(),
		DatabaseConnected: n.pool.Ping(ctx) == nil,
		JobCache:          n.monitor.Stats(),
		ExecutionQueue: QueueStatus{
			Size:            size,
			HighestPriority: top.String(),
		},
	}
}

// ForceJobExecution evaluates one cached job immediately.
func (n *KeeperNode) ForceJobExecution(ctx context.Context, jobID uint64) error {
	return n.monitor.ForceCheck(ctx, jobID)
}
