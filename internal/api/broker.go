package api

import (
	"sync"

	"omniroute/internal/events"
)

// EventBroker fans job events out to websocket subscribers keyed by job id.
type EventBroker interface {
	Subscribe(jobID string) chan events.JobEvent
	Unsubscribe(jobID string, ch chan events.JobEvent)
	Publish(jobID string, evt events.JobEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan events.JobEvent]struct{} // jobID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan events.JobEvent]struct{}{}}
}

func (b *Broker) Subscribe(jobID string) chan events.JobEvent {
	ch := make(chan events.JobEvent, 8)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan events.JobEvent]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(jobID string, ch chan events.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[jobID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, jobID)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(jobID string, evt events.JobEvent) {
	b.mu.Lock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
