package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
	"github.com/fairyhunter13/solcron-keeper/internal/observability"
)

// feePaidPlaceholder is recorded on success until fee introspection of
// confirmed transactions is wired (base signature fee, lamports).
const feePaidPlaceholder = 5000

// ExecutorConfig carries the execution loop's tunables.
type ExecutorConfig struct {
	MaxRetries        uint32
	RetryDelay        time.Duration
	SimulationEnabled bool
	KeeperAddress     string

	// IdleWait and Pause default to 500ms and 100ms.
	IdleWait time.Duration
	Pause    time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 500 * time.Millisecond
	}
	if c.Pause <= 0 {
		c.Pause = 100 * time.Millisecond
	}
	return c
}

// JobExecutor drains the monitor's request channel into a priority
// queue and executes queued jobs one at a time, highest priority first.
type JobExecutor struct {
	cfg        ExecutorConfig
	engine     domain.TxEngine
	executions domain.ExecutionRepository
	stats      domain.StatsRepository
	queue      *ExecutionQueue
	requests   <-chan domain.ExecutionRequest
	now        func() time.Time
}

// NewJobExecutor constructs an executor reading from requests.
func NewJobExecutor(cfg ExecutorConfig, engine domain.TxEngine, executions domain.ExecutionRepository, stats domain.StatsRepository, requests <-chan domain.ExecutionRequest) *JobExecutor {
	return &JobExecutor{
		cfg:        cfg.withDefaults(),
		engine:     engine,
		executions: executions,
		stats:      stats,
		queue:      NewExecutionQueue(),
		requests:   requests,
		now:        time.Now,
	}
}

// Run is the execution loop. It moves every request waiting on the
// channel into the queue, then pops and executes the highest-priority
// one; an empty queue parks briefly rather than blocking on the channel
// so newly queued high-priority work overtakes older low-priority work.
func (e *JobExecutor) Run(ctx context.Context) error {
	slog.Info("starting job executor",
		slog.String("keeper", e.cfg.KeeperAddress),
		slog.Bool("simulation", e.cfg.SimulationEnabled))

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("job executor stopping")
			return nil
		}
		e.drainChannel()

		req, ok := e.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				slog.Info("job executor stopping")
				return nil
			case r := <-e.requests:
				e.queue.Push(r)
			case <-time.After(e.cfg.IdleWait):
			}
			continue
		}

		e.executeAndRecord(ctx, req)

		select {
		case <-ctx.Done():
			slog.Info("job executor stopping")
			return nil
		case <-time.After(e.cfg.Pause):
		}
	}
}

func (e *JobExecutor) drainChannel() {
	for {
		select {
		case req := <-e.requests:
			e.queue.Push(req)
		default:
			return
		}
	}
}

type executionOutcome struct {
	success   bool
	signature string
	errMsg    string
	feePaid   int64
}

func (e *JobExecutor) executeAndRecord(ctx context.Context, req domain.ExecutionRequest) {
	slog.Info("executing job",
		slog.Uint64("job_id", req.Job.JobID),
		slog.String("priority", req.Priority.String()),
		slog.String("reason", req.Reason))

	started := e.now()
	outcome := e.executeJob(ctx, req.Job)
	observability.ExecutionDuration.Observe(time.Since(started).Seconds())

	if outcome.success {
		observability.ExecutionsTotal.WithLabelValues("success").Inc()
		observability.FeesEarnedTotal.Add(float64(outcome.feePaid))
		slog.Info("job executed",
			slog.Uint64("job_id", req.Job.JobID),
			slog.String("signature", outcome.signature))
	} else {
		observability.ExecutionsTotal.WithLabelValues("failure").Inc()
		slog.Error("job execution failed",
			slog.Uint64("job_id", req.Job.JobID),
			slog.String("error", outcome.errMsg))
	}

	e.record(ctx, req.Job, outcome)
}

// executeJob runs the prepare, optional simulate, and submit-with-retry
// sequence for one job.
func (e *JobExecutor) executeJob(ctx context.Context, j domain.Job) executionOutcome {
	tx, err := e.engine.Prepare(ctx, j)
	if err != nil {
		return executionOutcome{errMsg: err.Error()}
	}

	if e.cfg.SimulationEnabled {
		if err := e.engine.Simulate(ctx, tx); err != nil {
			if errors.Is(err, domain.ErrTransaction) {
				// The program rejected the transaction; submitting it
				// would only burn fees.
				return executionOutcome{errMsg: err.Error()}
			}
			slog.Warn("simulation call failed, proceeding with submission",
				slog.Uint64("job_id", j.JobID), slog.Any("error", err))
		}
	}

	sig, err := e.submitWithRetry(ctx, j.JobID, tx)
	if err != nil {
		return executionOutcome{errMsg: err.Error()}
	}
	return executionOutcome{success: true, signature: sig, feePaid: feePaidPlaceholder}
}

// submitWithRetry submits with up to MaxRetries attempts, doubling the
// delay from RetryDelay between attempts.
func (e *JobExecutor) submitWithRetry(ctx context.Context, jobID uint64, tx domain.PreparedTx) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var sig string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		s, err := e.engine.Submit(ctx, tx)
		if err != nil {
			slog.Warn("transaction submission failed",
				slog.Uint64("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", int(e.cfg.MaxRetries)),
				slog.Any("error", err))
			return err
		}
		sig = s
		return nil
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(e.cfg.MaxRetries-1)))
	if err != nil {
		return "", fmt.Errorf("op=executor.submit: %w: %w", domain.ErrExecution, err)
	}
	return sig, nil
}

// record appends the execution log row and bumps the daily stats. Both
// writes are best-effort; a persistence failure never blocks the loop.
func (e *JobExecutor) record(ctx context.Context, j domain.Job, outcome executionOutcome) {
	rec := domain.ExecutionRecord{
		JobID:         j.JobID,
		KeeperAddress: e.cfg.KeeperAddress,
		Timestamp:     e.now(),
		Success:       outcome.success,
	}
	if outcome.success {
		sig := outcome.signature
		rec.Signature = &sig
		gas := int64(0)
		rec.GasUsed = &gas
		fee := outcome.feePaid
		rec.FeePaid = &fee
	} else {
		msg := outcome.errMsg
		rec.Error = &msg
	}

	if err := e.executions.Record(ctx, rec); err != nil {
		slog.Error("failed to record execution",
			slog.Uint64("job_id", j.JobID), slog.Any("error", err))
	}
	if err := e.stats.Bump(ctx, e.now(), outcome.success, outcome.feePaid); err != nil {
		slog.Error("failed to update keeper stats",
			slog.Uint64("job_id", j.JobID), slog.Any("error", err))
	}
}

// QueueStats exposes the queue size and top priority for status
// reporting.
func (e *JobExecutor) QueueStats() (int, domain.Priority) {
	return e.queue.Stats()
}

// ClearQueue drops all pending requests and returns how many were
// dropped.
func (e *JobExecutor) ClearQueue() int {
	n := e.queue.Clear()
	if n > 0 {
		slog.Warn("cleared execution queue", slog.Int("dropped", n))
	}
	return n
}
