package service

import (
	"sync"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/model"
)

const eventBufferSize = 16

// EventBus fans job status snapshots out to per-job subscribers. Publishing
// never blocks: a subscriber that falls behind loses intermediate events and
// catches up on the next one.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string][]chan model.StatusEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan model.StatusEvent),
	}
}

// Subscribe registers for updates on one job. The returned cancel function
// must be called when the subscriber is done; it closes the channel.
func (b *EventBus) Subscribe(jobID string) (<-chan model.StatusEvent, func()) {
	ch := make(chan model.StatusEvent, eventBufferSize)

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[jobID]
		for i, c := range chans {
			if c == ch {
				b.subs[jobID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the job, dropping it
// for subscribers whose buffers are full.
func (b *EventBus) Publish(ev model.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers a job currently has.
func (b *EventBus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
