// Package usecase contains the keeper's core pipeline: trigger
// evaluation, job monitoring, the priority queue, and execution.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// TriggerEvaluator decides whether a job's trigger fires at a given
// instant. It is deterministic in (job, now) except for conditions
// that consult chain accounts.
type TriggerEvaluator struct {
	accounts domain.AccountReader
}

// NewTriggerEvaluator constructs an evaluator backed by the given
// account reader.
func NewTriggerEvaluator(accounts domain.AccountReader) *TriggerEvaluator {
	return &TriggerEvaluator{accounts: accounts}
}

// triggerParams is the union of fields any trigger type may carry.
type triggerParams struct {
	Interval       *int64  `json:"interval"`
	TimeInterval   *int64  `json:"time_interval"`
	Condition      *string `json:"condition"`
	EventSignature *string `json:"event_signature"`
}

func decodeParams(raw json.RawMessage) (triggerParams, error) {
	var p triggerParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("op=evaluate.params: %w: %w", domain.ErrInvalidTrigger, err)
	}
	return p, nil
}

// Evaluate implements domain.Evaluator.
func (e *TriggerEvaluator) Evaluate(ctx context.Context, j domain.Job, now time.Time) (domain.EvaluationResult, error) {
	if !j.IsActive {
		return domain.EvaluationResult{Reason: "Job is not active"}, nil
	}
	if j.Balance <= j.MinBalance {
		return domain.EvaluationResult{Reason: "Insufficient balance"}, nil
	}

	params, err := decodeParams(j.TriggerParams)
	if err != nil {
		return domain.EvaluationResult{}, err
	}

	switch j.TriggerType {
	case domain.TriggerTime:
		return evaluateTimeTrigger(j, params, now)
	case domain.TriggerConditional:
		return e.evaluateConditionalTrigger(ctx, j, params, now)
	case domain.TriggerLog:
		return evaluateLogTrigger(j, params, now)
	case domain.TriggerHybrid:
		return e.evaluateHybridTrigger(ctx, j, params, now)
	default:
		slog.Warn("unknown trigger type",
			slog.Uint64("job_id", j.JobID), slog.String("trigger_type", j.TriggerType))
		return domain.EvaluationResult{
			Reason: fmt.Sprintf("Unknown trigger type: %s", j.TriggerType),
		}, nil
	}
}

func evaluateTimeTrigger(j domain.Job, params triggerParams, now time.Time) (domain.EvaluationResult, error) {
	if params.Interval == nil {
		return domain.EvaluationResult{}, fmt.Errorf(
			"op=evaluate.time: %w: missing or invalid interval in time trigger", domain.ErrInvalidTrigger)
	}
	interval := time.Duration(*params.Interval) * time.Second

	shouldExecute := j.LastExecuted == nil || now.Sub(*j.LastExecuted) >= interval

	var next *time.Time
	if !shouldExecute {
		t := j.LastExecuted.Add(interval)
		next = &t
	}

	reason := "Time interval elapsed"
	if !shouldExecute {
		reason = fmt.Sprintf("Waiting for interval (%ds)", *params.Interval)
	}
	return domain.EvaluationResult{
		ShouldExecute: shouldExecute,
		Reason:        reason,
		NextCheckTime: next,
	}, nil
}

func (e *TriggerEvaluator) evaluateConditionalTrigger(ctx context.Context, j domain.Job, params triggerParams, now time.Time) (domain.EvaluationResult, error) {
	if params.Condition == nil {
		return domain.EvaluationResult{}, fmt.Errorf(
			"op=evaluate.conditional: %w: missing condition in conditional trigger", domain.ErrInvalidTrigger)
	}

	ok, reason, err := e.evaluateCondition(ctx, j, *params.Condition)
	if err != nil {
		return domain.EvaluationResult{}, err
	}

	next := now.Add(time.Minute)
	return domain.EvaluationResult{
		ShouldExecute: ok,
		Reason:        reason,
		NextCheckTime: &next,
	}, nil
}

// Log triggers are placeholder time-gated checks until a real log
// subscription feed is wired into the monitor.
func evaluateLogTrigger(j domain.Job, params triggerParams, now time.Time) (domain.EvaluationResult, error) {
	if params.EventSignature == nil {
		return domain.EvaluationResult{}, fmt.Errorf(
			"op=evaluate.log: %w: missing event_signature in log trigger", domain.ErrInvalidTrigger)
	}

	shouldExecute := j.LastExecuted == nil || now.Sub(*j.LastExecuted) > 300*time.Second

	reason := "Event condition met"
	if !shouldExecute {
		reason = "Waiting for event"
	}
	next := now.Add(30 * time.Second)
	return domain.EvaluationResult{
		ShouldExecute: shouldExecute,
		Reason:        reason,
		NextCheckTime: &next,
	}, nil
}

func (e *TriggerEvaluator) evaluateHybridTrigger(ctx context.Context, j domain.Job, params triggerParams, now time.Time) (domain.EvaluationResult, error) {
	shouldExecute := true
	var reasons []string

	if params.TimeInterval != nil {
		interval := time.Duration(*params.TimeInterval) * time.Second
		timeOK := j.LastExecuted == nil || now.Sub(*j.LastExecuted) >= interval
		if !timeOK {
			shouldExecute = false
			reasons = append(reasons, fmt.Sprintf("Time interval not met (%ds)", *params.TimeInterval))
		} else {
			reasons = append(reasons, "Time interval met")
		}
	}

	if params.Condition != nil {
		ok, reason, err := e.evaluateCondition(ctx, j, *params.Condition)
		if err != nil {
			return domain.EvaluationResult{}, err
		}
		if !ok {
			shouldExecute = false
		}
		reasons = append(reasons, reason)
	}

	if params.EventSignature != nil {
		eventOK := j.LastExecuted == nil || now.Sub(*j.LastExecuted) > time.Minute
		if !eventOK {
			shouldExecute = false
			reasons = append(reasons, "Event condition not met")
		} else {
			reasons = append(reasons, "Event condition met")
		}
	}

	next := now.Add(30 * time.Second)
	return domain.EvaluationResult{
		ShouldExecute: shouldExecute,
		Reason:        strings.Join(reasons, "; "),
		NextCheckTime: &next,
	}, nil
}

// evaluateCondition interprets the small conditional grammar:
// "balance > N", "account_exists:<pubkey>", and the reserved
// "token_balance > N:<mint>" form.
func (e *TriggerEvaluator) evaluateCondition(ctx context.Context, j domain.Job, condition string) (bool, string, error) {
	switch {
	case strings.HasPrefix(condition, "balance >"):
		return evaluateBalanceCondition(j, condition)
	case strings.HasPrefix(condition, "account_exists:"):
		return e.evaluateAccountExists(ctx, condition)
	case strings.Contains(condition, "token_balance >"):
		slog.Debug("token balance condition not implemented", slog.String("condition", condition))
		return true, "Token condition evaluation placeholder", nil
	default:
		// Unknown conditions fail closed rather than firing the job.
		slog.Warn("unknown condition format", slog.String("condition", condition))
		return false, "Unknown condition", nil
	}
}

func evaluateBalanceCondition(j domain.Job, condition string) (bool, string, error) {
	parts := strings.Fields(condition)
	if len(parts) != 3 {
		return false, "Invalid balance condition format", nil
	}
	threshold, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return false, "", fmt.Errorf("op=evaluate.condition: %w: invalid balance threshold", domain.ErrInvalidTrigger)
	}
	current := uint64(j.Balance)
	return current > threshold, fmt.Sprintf("Balance %d %s %d", current, parts[1], threshold), nil
}

func (e *TriggerEvaluator) evaluateAccountExists(ctx context.Context, condition string) (bool, string, error) {
	address := strings.TrimPrefix(condition, "account_exists:")
	exists, err := e.accounts.AccountExists(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTrigger) {
			return false, "", err
		}
		slog.Warn("error checking account existence", slog.Any("error", err))
		return false, "Error checking account", nil
	}
	if exists {
		return true, "Account exists", nil
	}
	return false, "Account does not exist", nil
}
