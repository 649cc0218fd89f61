package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
	"github.com/fairyhunter13/solcron-keeper/internal/observability"
)

// MonitorConfig carries the tunables of the polling loop.
type MonitorConfig struct {
	PollInterval    time.Duration
	CacheTTL        time.Duration
	MaxConcurrent   int64
	RefreshInterval time.Duration
	CleanupInterval time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return c
}

// cachedJob is one entry of the monitor's in-memory job cache.
type cachedJob struct {
	job                 domain.Job
	lastEvaluation      time.Time
	nextCheckTime       *time.Time
	evaluationCount     uint64
	consecutiveFailures uint32
}

// CacheStats summarizes the monitor cache.
type CacheStats struct {
	Total   int `json:"total_jobs"`
	Active  int `json:"active_jobs"`
	Pending int `json:"pending_checks"`
}

// JobMonitor polls jobs, runs the evaluator over the due ones with
// bounded concurrency and forwards firing jobs to the executor channel.
type JobMonitor struct {
	cfg       MonitorConfig
	jobs      domain.JobRepository
	evaluator domain.Evaluator
	requests  chan<- domain.ExecutionRequest
	now       func() time.Time

	mu    sync.RWMutex
	cache map[uint64]*cachedJob
}

// NewJobMonitor constructs a monitor feeding the given request channel.
func NewJobMonitor(cfg MonitorConfig, jobs domain.JobRepository, evaluator domain.Evaluator, requests chan<- domain.ExecutionRequest) *JobMonitor {
	return &JobMonitor{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		evaluator: evaluator,
		requests:  requests,
		now:       time.Now,
		cache:     make(map[uint64]*cachedJob),
	}
}

// Run drives the monitoring loop until ctx is cancelled: an evaluation
// cycle every poll interval, a cache refresh from the database every
// refresh interval, and a stale-entry sweep every cleanup interval.
func (m *JobMonitor) Run(ctx context.Context) error {
	slog.Info("starting job monitoring loop",
		slog.Duration("poll_interval", m.cfg.PollInterval),
		slog.Int64("max_concurrent", m.cfg.MaxConcurrent))

	if err := m.RefreshCache(ctx); err != nil {
		slog.Warn("initial cache refresh failed", slog.Any("error", err))
	}

	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(m.cfg.RefreshInterval)
	defer refresh.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job monitor stopping")
			return nil
		case <-poll.C:
			if err := m.runCycle(ctx); err != nil {
				slog.Error("monitoring cycle failed", slog.Any("error", err))
			}
		case <-refresh.C:
			if err := m.RefreshCache(ctx); err != nil {
				slog.Error("cache refresh failed", slog.Any("error", err))
			}
		case <-cleanup.C:
			m.cleanupCache()
		}
	}
}

// runCycle evaluates every due job with at most MaxConcurrent in
// flight.
func (m *JobMonitor) runCycle(ctx context.Context) error {
	due := m.jobsToCheck()
	if len(due) == 0 {
		var err error
		due, err = m.jobs.EligibleJobs(ctx, m.now())
		if err != nil {
			return fmt.Errorf("op=monitor.cycle: %w", err)
		}
	}
	if len(due) == 0 {
		return nil
	}

	slog.Debug("evaluating jobs", slog.Int("count", len(due)))

	sem := semaphore.NewWeighted(m.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, j := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(j domain.Job) {
			defer wg.Done()
			defer sem.Release(1)
			if err := m.processJob(ctx, j); err != nil {
				slog.Error("job processing failed",
					slog.Uint64("job_id", j.JobID), slog.Any("error", err))
			}
		}(j)
	}
	wg.Wait()
	m.publishCacheGauges()
	return nil
}

// jobsToCheck returns the cached jobs whose next check is due. Entries
// with a next_check_time are due once it passes; entries without one
// are due when their last evaluation is older than the cache TTL.
func (m *JobMonitor) jobsToCheck() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var due []domain.Job
	for _, entry := range m.cache {
		if !entry.job.IsActive {
			continue
		}
		if entry.nextCheckTime != nil {
			if !now.Before(*entry.nextCheckTime) {
				due = append(due, entry.job)
			}
		} else if now.Sub(entry.lastEvaluation) >= m.cfg.CacheTTL {
			due = append(due, entry.job)
		}
	}
	return due
}

func (m *JobMonitor) processJob(ctx context.Context, j domain.Job) error {
	if err := m.jobs.MarkChecked(ctx, j.JobID); err != nil {
		slog.Warn("failed to mark job checked",
			slog.Uint64("job_id", j.JobID), slog.Any("error", err))
	}

	result, err := m.evaluator.Evaluate(ctx, j, m.now())
	if err != nil {
		m.recordEvaluationFailure(j.JobID)
		return fmt.Errorf("op=monitor.evaluate: %w", err)
	}

	m.recordEvaluation(j, result)
	observability.EvaluationsTotal.WithLabelValues(j.TriggerType, fmt.Sprintf("%t", result.ShouldExecute)).Inc()

	if !result.ShouldExecute {
		slog.Debug("job not due",
			slog.Uint64("job_id", j.JobID), slog.String("reason", result.Reason))
		return nil
	}

	req := domain.ExecutionRequest{
		Job:      j,
		Reason:   result.Reason,
		Priority: determinePriority(j, result, m.now()),
	}
	select {
	case m.requests <- req:
		slog.Info("queued job for execution",
			slog.Uint64("job_id", j.JobID),
			slog.String("priority", req.Priority.String()),
			slog.String("reason", req.Reason))
		return nil
	default:
		return fmt.Errorf("op=monitor.dispatch: %w: execution channel full, dropping job %d",
			domain.ErrInternal, j.JobID)
	}
}

// determinePriority ranks a firing job. The first matching rule wins.
func determinePriority(j domain.Job, result domain.EvaluationResult, now time.Time) domain.Priority {
	if j.LastExecuted == nil {
		return domain.PriorityHigh
	}
	if now.Sub(*j.LastExecuted) > 24*time.Hour {
		return domain.PriorityHigh
	}
	if j.FailedCount > 5 && j.FailedCount > j.ExecutionCount/2 {
		return domain.PriorityCritical
	}
	if j.ExecutionCount > 100 {
		return domain.PriorityLow
	}
	if strings.Contains(result.Reason, "Time interval elapsed") {
		return domain.PriorityNormal
	}
	return domain.PriorityNormal
}

func (m *JobMonitor) recordEvaluation(j domain.Job, result domain.EvaluationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[j.JobID]
	if !ok {
		entry = &cachedJob{}
		m.cache[j.JobID] = entry
	}
	entry.job = j
	entry.lastEvaluation = m.now()
	entry.nextCheckTime = result.NextCheckTime
	entry.evaluationCount++
	entry.consecutiveFailures = 0
}

func (m *JobMonitor) recordEvaluationFailure(jobID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.cache[jobID]; ok {
		entry.consecutiveFailures++
	}
}

// RefreshCache reloads the active job set from the database, keeping
// the evaluation counters of jobs already cached and dropping jobs
// that left the active set.
func (m *JobMonitor) RefreshCache(ctx context.Context) error {
	jobs, err := m.jobs.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("op=monitor.refresh: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	active := make(map[uint64]struct{}, len(jobs))
	for _, j := range jobs {
		active[j.JobID] = struct{}{}
		if entry, ok := m.cache[j.JobID]; ok {
			entry.job = j
		} else {
			m.cache[j.JobID] = &cachedJob{job: j, lastEvaluation: m.now()}
		}
	}
	for id := range m.cache {
		if _, ok := active[id]; !ok {
			delete(m.cache, id)
		}
	}
	slog.Info("refreshed job cache", slog.Int("jobs", len(jobs)))
	return nil
}

// cleanupCache evicts entries that have not been evaluated within ten
// cache TTLs. The periodic refresh re-adds any that are still active.
func (m *JobMonitor) cleanupCache() {
	staleAfter := 10 * m.cfg.CacheTTL
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.cache)
	for id, entry := range m.cache {
		if now.Sub(entry.lastEvaluation) >= staleAfter {
			delete(m.cache, id)
		}
	}
	if removed := before - len(m.cache); removed > 0 {
		slog.Info("cleaned up stale cache entries", slog.Int("removed", removed))
	}
}

// ForceCheck evaluates one cached job immediately, outside the polling
// schedule.
func (m *JobMonitor) ForceCheck(ctx context.Context, jobID uint64) error {
	m.mu.RLock()
	entry, ok := m.cache[jobID]
	var j domain.Job
	if ok {
		j = entry.job
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("op=monitor.force_check: %w: job %d not found in cache", domain.ErrInvalidJob, jobID)
	}
	return m.processJob(ctx, j)
}

// Stats summarizes the cache: total entries, active entries, and
// active entries whose next check is already due.
func (m *JobMonitor) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var s CacheStats
	s.Total = len(m.cache)
	for _, entry := range m.cache {
		if !entry.job.IsActive {
			continue
		}
		s.Active++
		if entry.nextCheckTime == nil || !now.Before(*entry.nextCheckTime) {
			s.Pending++
		}
	}
	return s
}

func (m *JobMonitor) publishCacheGauges() {
	s := m.Stats()
	observability.CachedJobs.WithLabelValues("total").Set(float64(s.Total))
	observability.CachedJobs.WithLabelValues("active").Set(float64(s.Active))
	observability.CachedJobs.WithLabelValues("pending").Set(float64(s.Pending))
}
