package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "optimization.events", zaptest.NewLogger(t))

	evt := NewJobEvent(TypeJobCompleted, "job-1", "t_demo", "completed", map[string]any{"quality_score": 84.6})
	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "job-1", string(msg.Key))
	assert.Equal(t, kafkago.Header{Key: "event_type", Value: []byte(TypeJobCompleted)}, msg.Headers[0])

	var got JobEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, "t_demo", got.TenantID)
	assert.InDelta(t, 84.6, got.Data["quality_score"], 1e-9)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom}, "optimization.events", nil)
	err := p.Publish(context.Background(), NewJobEvent(TypeJobStarted, "job-2", "t", "running", nil))
	assert.ErrorIs(t, err, boom)
}

func TestJobEventTerminal(t *testing.T) {
	assert.False(t, JobEvent{Type: TypeJobCreated}.Terminal())
	assert.False(t, JobEvent{Type: TypeJobStarted}.Terminal())
	assert.True(t, JobEvent{Type: TypeJobCompleted}.Terminal())
	assert.True(t, JobEvent{Type: TypeJobFailed}.Terminal())
	assert.True(t, JobEvent{Type: TypeJobCancelled}.Terminal())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), JobEvent{}))
	assert.NoError(t, p.Close())
}
