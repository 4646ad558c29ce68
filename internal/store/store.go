package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus is the lifecycle state of an optimization job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimeout   JobStatus = "timeout"
	StatusCancelled JobStatus = "cancelled"
)

func ParseStatus(s string) (JobStatus, bool) {
	switch st := JobStatus(s); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusTimeout || to == StatusCancelled
	}
	return false
}

// Job is the persisted record of one optimization request.
type Job struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Status          JobStatus       `json:"status"`
	SolverType      string          `json:"solver_type"`
	Strategy        string          `json:"strategy,omitempty"`
	InputHash       string          `json:"input_hash"`
	Input           json.RawMessage `json:"input,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	QualityScore    *float64        `json:"quality_score,omitempty"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	RetryCount      int             `json:"retry_count"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Outcome closes a running job.
type Outcome struct {
	Status          JobStatus
	Strategy        string
	Result          json.RawMessage
	QualityScore    *float64
	ExecutionTimeMs *int64
	ErrorMessage    string
	ErrorKind       string
}

// JobStore is the persistence interface for optimization jobs.
type JobStore interface {
	// CreateJob stores j as pending, assigning ID and CreatedAt when empty.
	CreateJob(ctx context.Context, j Job) (Job, error)
	StartJob(ctx context.Context, tenantID, id string) (Job, error)
	FinishJob(ctx context.Context, tenantID, id string, out Outcome) (Job, error)
	CancelJob(ctx context.Context, tenantID, id string) (Job, error)
	GetJob(ctx context.Context, tenantID, id string) (Job, error)
	// ListJobs pages newest first. An empty status lists every status.
	ListJobs(ctx context.Context, tenantID string, status JobStatus, cursor string, limit int) ([]Job, string, error)
	Ping(ctx context.Context) error
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
