package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory JobStore used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*Job     // id -> job
	byTen map[string][]string // tenant -> job ids, oldest first
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: map[string]*Job{}, byTen: map[string][]string{}, now: time.Now}
}

func (m *Memory) CreateJob(ctx context.Context, j Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if _, dup := m.jobs[j.ID]; dup {
		return Job{}, fmt.Errorf("create job %s: already exists", j.ID)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = m.now().UTC()
	}
	j.Status = StatusPending
	stored := j
	m.jobs[j.ID] = &stored
	m.byTen[j.TenantID] = append(m.byTen[j.TenantID], j.ID)
	return stored, nil
}

func (m *Memory) get(tenantID, id string) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return j, nil
}

func (m *Memory) StartJob(ctx context.Context, tenantID, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(tenantID, id)
	if err != nil {
		return Job{}, err
	}
	if !CanTransition(j.Status, StatusRunning) {
		return *j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
	}
	now := m.now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
	return *j, nil
}

func (m *Memory) FinishJob(ctx context.Context, tenantID, id string, out Outcome) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(tenantID, id)
	if err != nil {
		return Job{}, err
	}
	if !out.Status.Terminal() || !CanTransition(j.Status, out.Status) {
		return *j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, out.Status)
	}
	now := m.now().UTC()
	j.Status = out.Status
	if out.Strategy != "" {
		j.Strategy = out.Strategy
	}
	j.Result = out.Result
	j.QualityScore = out.QualityScore
	j.ExecutionTimeMs = out.ExecutionTimeMs
	j.ErrorMessage = out.ErrorMessage
	j.ErrorKind = out.ErrorKind
	j.CompletedAt = &now
	return *j, nil
}

func (m *Memory) CancelJob(ctx context.Context, tenantID, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(tenantID, id)
	if err != nil {
		return Job{}, err
	}
	if !CanTransition(j.Status, StatusCancelled) {
		return *j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusCancelled)
	}
	now := m.now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	return *j, nil
}

func (m *Memory) GetJob(ctx context.Context, tenantID, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(tenantID, id)
	if err != nil {
		return Job{}, err
	}
	return *j, nil
}

func (m *Memory) ListJobs(ctx context.Context, tenantID string, status JobStatus, cursor string, limit int) ([]Job, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	ids := m.byTen[tenantID]
	start := len(ids) - 1
	if cursor != "" {
		start = -1
		for i := len(ids) - 1; i >= 0; i-- {
			if ids[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []Job{}
	for i := start; i >= 0 && len(out) < limit; i-- {
		j := m.jobs[ids[i]]
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *j)
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
