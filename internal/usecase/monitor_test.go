package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/solcron-keeper/internal/domain"
)

// fakeJobRepo implements domain.JobRepository in memory.
type fakeJobRepo struct {
	mu       sync.Mutex
	active   []domain.Job
	eligible []domain.Job
	checked  []uint64
	markErr  error
}

func (f *fakeJobRepo) Upsert(context.Context, domain.Job) error { return nil }

func (f *fakeJobRepo) ActiveJobs(context.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Job(nil), f.active...), nil
}

func (f *fakeJobRepo) EligibleJobs(context.Context, time.Time) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Job(nil), f.eligible...), nil
}

func (f *fakeJobRepo) MarkChecked(_ context.Context, jobID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, jobID)
	return f.markErr
}

// fakeEvaluator returns a fixed result per job ID.
type fakeEvaluator struct {
	mu      sync.Mutex
	results map[uint64]domain.EvaluationResult
	err     error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, j domain.Job, _ time.Time) (domain.EvaluationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.EvaluationResult{}, f.err
	}
	return f.results[j.JobID], nil
}

func activeJob(id uint64) domain.Job {
	return domain.Job{JobID: id, TriggerType: domain.TriggerTime, IsActive: true, Balance: 100, MinBalance: 1}
}

func TestDeterminePriority(t *testing.T) {
	now := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	stale := now.Add(-25 * time.Hour)
	fired := domain.EvaluationResult{ShouldExecute: true, Reason: "Time interval elapsed"}

	tests := []struct {
		name string
		job  domain.Job
		want domain.Priority
	}{
		{
			name: "never executed",
			job:  domain.Job{},
			want: domain.PriorityHigh,
		},
		{
			name: "stale beyond a day",
			job:  domain.Job{LastExecuted: &stale, ExecutionCount: 500},
			want: domain.PriorityHigh,
		},
		{
			name: "failing more than half its runs",
			job:  domain.Job{LastExecuted: &recent, ExecutionCount: 10, FailedCount: 6},
			want: domain.PriorityCritical,
		},
		{
			name: "six failures against a long success history",
			job:  domain.Job{LastExecuted: &recent, ExecutionCount: 200, FailedCount: 6},
			want: domain.PriorityLow,
		},
		{
			name: "well exercised and healthy",
			job:  domain.Job{LastExecuted: &recent, ExecutionCount: 101},
			want: domain.PriorityLow,
		},
		{
			name: "ordinary time trigger",
			job:  domain.Job{LastExecuted: &recent, ExecutionCount: 10},
			want: domain.PriorityNormal,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, determinePriority(tc.job, fired, now))
		})
	}
}

func TestMonitor_ProcessJob_DispatchesFiringJob(t *testing.T) {
	repo := &fakeJobRepo{}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		7: {ShouldExecute: true, Reason: "Time interval elapsed"},
	}}
	requests := make(chan domain.ExecutionRequest, 4)
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	require.NoError(t, m.processJob(context.Background(), activeJob(7)))

	require.Len(t, requests, 1)
	req := <-requests
	assert.Equal(t, uint64(7), req.Job.JobID)
	assert.Equal(t, domain.PriorityHigh, req.Priority)
	assert.Equal(t, "Time interval elapsed", req.Reason)
	assert.Equal(t, []uint64{7}, repo.checked)
}

func TestMonitor_ProcessJob_NotDue(t *testing.T) {
	next := time.Now().Add(time.Minute)
	repo := &fakeJobRepo{}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		7: {Reason: "Waiting for interval (60s)", NextCheckTime: &next},
	}}
	requests := make(chan domain.ExecutionRequest, 4)
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	require.NoError(t, m.processJob(context.Background(), activeJob(7)))
	assert.Empty(t, requests)

	// The next check time lands in the cache.
	m.mu.RLock()
	entry := m.cache[7]
	m.mu.RUnlock()
	require.NotNil(t, entry)
	require.NotNil(t, entry.nextCheckTime)
	assert.True(t, entry.nextCheckTime.Equal(next))
	assert.Equal(t, uint64(1), entry.evaluationCount)
}

func TestMonitor_ProcessJob_FullChannelSurfacesError(t *testing.T) {
	repo := &fakeJobRepo{}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		1: {ShouldExecute: true, Reason: "Time interval elapsed"},
	}}
	requests := make(chan domain.ExecutionRequest, 1)
	requests <- domain.ExecutionRequest{}
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	err := m.processJob(context.Background(), activeJob(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestMonitor_ProcessJob_MarkCheckedFailureIsNonFatal(t *testing.T) {
	repo := &fakeJobRepo{markErr: assert.AnError}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		1: {ShouldExecute: true, Reason: "Time interval elapsed"},
	}}
	requests := make(chan domain.ExecutionRequest, 1)
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	require.NoError(t, m.processJob(context.Background(), activeJob(1)))
	assert.Len(t, requests, 1)
}

func TestMonitor_ProcessJob_EvaluatorErrorCountsFailure(t *testing.T) {
	repo := &fakeJobRepo{}
	eval := &fakeEvaluator{err: assert.AnError}
	requests := make(chan domain.ExecutionRequest, 1)
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	require.NoError(t, m.RefreshCache(context.Background()))
	m.mu.Lock()
	m.cache[1] = &cachedJob{job: activeJob(1)}
	m.mu.Unlock()

	require.Error(t, m.processJob(context.Background(), activeJob(1)))
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, uint32(1), m.cache[1].consecutiveFailures)
}

func TestMonitor_RefreshCache(t *testing.T) {
	repo := &fakeJobRepo{active: []domain.Job{activeJob(1), activeJob(2)}}
	eval := &fakeEvaluator{}
	m := NewJobMonitor(MonitorConfig{}, repo, eval, make(chan domain.ExecutionRequest, 1))

	require.NoError(t, m.RefreshCache(context.Background()))
	assert.Equal(t, 2, m.Stats().Total)

	// Counters survive a refresh; jobs gone from the active set drop out.
	m.mu.Lock()
	m.cache[1].evaluationCount = 9
	m.mu.Unlock()
	repo.mu.Lock()
	repo.active = []domain.Job{activeJob(1)}
	repo.mu.Unlock()

	require.NoError(t, m.RefreshCache(context.Background()))
	m.mu.RLock()
	defer m.mu.RUnlock()
	require.Len(t, m.cache, 1)
	assert.Equal(t, uint64(9), m.cache[1].evaluationCount)
}

func TestMonitor_JobsToCheck(t *testing.T) {
	m := NewJobMonitor(MonitorConfig{CacheTTL: time.Minute}, &fakeJobRepo{}, &fakeEvaluator{}, make(chan domain.ExecutionRequest, 1))
	now := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	due := now.Add(-time.Second)
	future := now.Add(time.Minute)
	m.cache = map[uint64]*cachedJob{
		1: {job: activeJob(1), nextCheckTime: &due},
		2: {job: activeJob(2), nextCheckTime: &future},
		3: {job: activeJob(3), lastEvaluation: now.Add(-2 * time.Minute)},
		4: {job: activeJob(4), lastEvaluation: now.Add(-time.Second)},
	}

	var ids []uint64
	for _, j := range m.jobsToCheck() {
		ids = append(ids, j.JobID)
	}
	assert.ElementsMatch(t, []uint64{1, 3}, ids)
}

func TestMonitor_RunCycle_FallsBackToEligibleJobs(t *testing.T) {
	repo := &fakeJobRepo{eligible: []domain.Job{activeJob(5)}}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		5: {ShouldExecute: true, Reason: "Time interval elapsed"},
	}}
	requests := make(chan domain.ExecutionRequest, 4)
	m := NewJobMonitor(MonitorConfig{MaxConcurrent: 2}, repo, eval, requests)

	require.NoError(t, m.runCycle(context.Background()))
	require.Len(t, requests, 1)
	assert.Equal(t, uint64(5), (<-requests).Job.JobID)
}

func TestMonitor_ForceCheck(t *testing.T) {
	repo := &fakeJobRepo{}
	eval := &fakeEvaluator{results: map[uint64]domain.EvaluationResult{
		3: {ShouldExecute: true, Reason: "Time interval elapsed"},
	}}
	requests := make(chan domain.ExecutionRequest, 1)
	m := NewJobMonitor(MonitorConfig{}, repo, eval, requests)

	err := m.ForceCheck(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)

	m.mu.Lock()
	m.cache[3] = &cachedJob{job: activeJob(3)}
	m.mu.Unlock()

	require.NoError(t, m.ForceCheck(context.Background(), 3))
	assert.Len(t, requests, 1)
}

func TestMonitor_CleanupCache(t *testing.T) {
	m := NewJobMonitor(MonitorConfig{CacheTTL: time.Minute}, &fakeJobRepo{}, &fakeEvaluator{}, make(chan domain.ExecutionRequest, 1))
	now := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	inactive := activeJob(2)
	inactive.IsActive = false
	m.cache = map[uint64]*cachedJob{
		1: {job: activeJob(1), lastEvaluation: now.Add(-time.Minute)},
		2: {job: inactive, lastEvaluation: now.Add(-11 * time.Minute)},
		3: {job: activeJob(3), lastEvaluation: now.Add(-11 * time.Minute)},
	}

	m.cleanupCache()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Contains(t, m.cache, uint64(1))
	assert.NotContains(t, m.cache, uint64(2))
	assert.NotContains(t, m.cache, uint64(3))
}

func TestMonitor_Stats(t *testing.T) {
	m := NewJobMonitor(MonitorConfig{}, &fakeJobRepo{}, &fakeEvaluator{}, make(chan domain.ExecutionRequest, 1))
	now := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	inactive := activeJob(9)
	inactive.IsActive = false
	future := now.Add(time.Minute)
	m.cache = map[uint64]*cachedJob{
		1: {job: activeJob(1)},
		2: {job: activeJob(2), nextCheckTime: &future},
		9: {job: inactive},
	}

	s := m.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Active)
	assert.Equal(t, 1, s.Pending)
}
