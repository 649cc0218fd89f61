// Package domain holds the keeper's entities and the ports its
// components communicate through. It depends only on the standard
// library; adapters implement the ports.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Trigger types recognized by the evaluator.
const (
	TriggerTime        = "time"
	TriggerConditional = "conditional"
	TriggerLog         = "log"
	TriggerHybrid      = "hybrid"
)

// Job is the durable record of one automation contract. Rows are
// upserted from on-chain state keyed on JobID; the keeper itself only
// ever stamps LastChecked.
type Job struct {
	JobID             uint64
	Owner             string
	TargetProgram     string
	TargetInstruction string
	TriggerType       string
	TriggerParams     json.RawMessage
	Balance           int64
	GasLimit          int64
	MinBalance        int64
	IsActive          bool
	LastChecked       *time.Time
	LastExecuted      *time.Time
	ExecutionCount    uint64
	FailedCount       uint64
	CachedData        json.RawMessage
}

// ExecutionRecord is one row of the append-only execution log.
// Records are inserted once and never updated.
type ExecutionRecord struct {
	ID            int64
	JobID         uint64
	KeeperAddress string
	Timestamp     time.Time
	Success       bool
	Signature     *string
	Error         *string
	GasUsed       *int64
	FeePaid       *int64
}

// KeeperDailyStats aggregates execution outcomes per calendar day.
type KeeperDailyStats struct {
	Date                 time.Time
	SuccessfulExecutions int64
	FailedExecutions     int64
	TotalFeesEarned      int64
}

// Priority orders execution requests. Higher values execute first.
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ExecutionRequest travels from the monitor to the executor. The job
// field is a snapshot taken at evaluation time.
type ExecutionRequest struct {
	Job      Job
	Reason   string
	Priority Priority
}

// EvaluationResult is the outcome of evaluating a job's trigger at a
// given instant. NextCheckTime is nil when the job should execute now
// or when no earlier re-check is useful.
type EvaluationResult struct {
	ShouldExecute bool
	Reason        string
	NextCheckTime *time.Time
}

// JobRepository persists jobs.
type JobRepository interface {
	// Upsert inserts or replaces a job by JobID, bumping updated_at.
	Upsert(ctx context.Context, j Job) error
	// ActiveJobs returns all active jobs ordered by last_checked,
	// never-checked first.
	ActiveJobs(ctx context.Context) ([]Job, error)
	// EligibleJobs returns up to 50 active, funded jobs not checked in
	// the last 30 seconds, never-executed first.
	EligibleJobs(ctx context.Context, now time.Time) ([]Job, error)
	// MarkChecked stamps last_checked with the current time.
	MarkChecked(ctx context.Context, jobID uint64) error
}

// ExecutionRepository appends to and reads the execution log.
type ExecutionRepository interface {
	Record(ctx context.Context, rec ExecutionRecord) error
	// History returns the newest-first page of executions for a job.
	History(ctx context.Context, jobID uint64, limit int) ([]ExecutionRecord, error)
}

// StatsRepository maintains the daily keeper aggregates with additive
// upsert semantics.
type StatsRepository interface {
	Bump(ctx context.Context, day time.Time, success bool, feeEarned int64) error
}

// AccountReader answers existence queries against chain accounts. The
// conditional evaluator is its only consumer.
type AccountReader interface {
	AccountExists(ctx context.Context, address string) (bool, error)
}

// Evaluator decides whether a job should execute at a given instant.
type Evaluator interface {
	Evaluate(ctx context.Context, j Job, now time.Time) (EvaluationResult, error)
}

// PreparedTx is an opaque signed transaction handle produced by
// TxEngine.Prepare and consumed by Simulate/Submit.
type PreparedTx interface{}

// TxEngine builds, simulates and submits execution transactions. A
// Simulate error wrapping ErrTransaction means the program rejected the
// transaction; any other error is a transport failure of the simulate
// call itself.
type TxEngine interface {
	Prepare(ctx context.Context, j Job) (PreparedTx, error)
	Simulate(ctx context.Context, tx PreparedTx) error
	Submit(ctx context.Context, tx PreparedTx) (signature string, err error)
}
