// Package events publishes optimization job lifecycle events downstream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle event types.
const (
	TypeJobCreated   = "job.created"
	TypeJobStarted   = "job.started"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobCancelled = "job.cancelled"
)

// JobEvent is the envelope written to the event stream and fanned out to
// websocket subscribers.
type JobEvent struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	JobID    string         `json:"job_id"`
	TenantID string         `json:"tenant_id"`
	Status   string         `json:"status"`
	TS       time.Time      `json:"ts"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewJobEvent stamps an event with a fresh id and the current time.
func NewJobEvent(typ, jobID, tenantID, status string, data map[string]any) JobEvent {
	return JobEvent{
		ID:       uuid.NewString(),
		Type:     typ,
		JobID:    jobID,
		TenantID: tenantID,
		Status:   status,
		TS:       time.Now().UTC(),
		Data:     data,
	}
}

// Terminal reports whether no further events follow for the job.
func (e JobEvent) Terminal() bool {
	switch e.Type {
	case TypeJobCompleted, TypeJobFailed, TypeJobCancelled:
		return true
	}
	return false
}

func (e JobEvent) Marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers job events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt JobEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                            { return nil }
