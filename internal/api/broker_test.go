package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omniroute/internal/events"
)

func receive(t *testing.T, ch chan events.JobEvent) events.JobEvent {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return events.JobEvent{}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	other := b.Subscribe("j2")

	evt := events.NewJobEvent(events.TypeJobStarted, "j1", "t_demo", "running", map[string]any{"x": 1})
	b.Publish("j1", evt)

	got := receive(t, ch)
	assert.Equal(t, evt.Type, got.Type)
	assert.Equal(t, 1, got.Data["x"])
	assert.Empty(t, other)

	b.Unsubscribe("j1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.NotPanics(t, func() { b.Unsubscribe("j1", ch) })
	assert.NotPanics(t, func() { b.Publish("j1", evt) })
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("j1")
	for i := 0; i < 20; i++ {
		b.Publish("j1", events.JobEvent{Type: events.TypeJobStarted, JobID: "j1"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestRedisBrokerFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// two replicas sharing one redis
	a, b := NewRedisBroker(rdb), NewRedisBroker(rdb)
	ch := a.Subscribe("j1")

	evt := events.NewJobEvent(events.TypeJobCompleted, "j1", "t_demo", "completed", map[string]any{"quality_score": 84.6})
	b.Publish("j1", evt)

	got := receive(t, ch)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, events.TypeJobCompleted, got.Type)
	assert.InDelta(t, 84.6, got.Data["quality_score"], 1e-9)

	a.Unsubscribe("j1", ch)
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
