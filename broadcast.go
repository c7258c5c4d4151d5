package devicehub

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is one execution-state change pushed to live observers.
type Event struct {
	ExecutionID int64           `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message,omitempty"`
	ReportPath  string          `json:"report_path,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

const subscriptionBuffer = 16

// Subscription is one listener attached to a single execution's topic.
// Events arrive on C from the point of subscription onward; there is no
// replay. Close detaches the listener.
type Subscription struct {
	C chan Event

	executionID int64
	broadcaster *Broadcaster
	closeOnce   sync.Once
}

// Close removes the subscription from its topic and closes C.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broadcaster.unsubscribe(s)
	})
}

// Broadcaster fans execution events out to per-execution subscriber sets.
// Delivery is best-effort: a full subscriber drops the event rather than
// backpressuring the publisher. It is never a durable event log.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[int64]map[*Subscription]struct{}
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{topics: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe attaches a listener to the topic for one execution id only.
func (b *Broadcaster) Subscribe(executionID int64) *Subscription {
	sub := &Subscription{
		C:           make(chan Event, subscriptionBuffer),
		executionID: executionID,
		broadcaster: b,
	}
	b.mu.Lock()
	set, ok := b.topics[executionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.topics[executionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if set, ok := b.topics[sub.executionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.topics, sub.executionID)
		}
	}
	b.mu.Unlock()
	close(sub.C)
}

// Publish delivers ev to every current subscriber of the execution's topic.
// With no subscribers the event is dropped. A full subscriber channel drops
// the event for that subscriber only.
func (b *Broadcaster) Publish(executionID int64, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[executionID] {
		select {
		case sub.C <- ev:
		default:
			log.Debug().Int64("execution_id", executionID).Msg("slow subscriber, event dropped")
		}
	}
}

// SubscriberCount reports the current number of listeners for an execution.
func (b *Broadcaster) SubscriberCount(executionID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[executionID])
}
