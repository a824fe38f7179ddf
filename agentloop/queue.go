package agentloop

import (
	"sync"

	"github.com/conversant-ai/agentcore/model"
)

// DrainPolicy selects how many items a Queue.Drain call removes at once
// (spec §4.3 "Draining policies").
type DrainPolicy int

const (
	// DrainOneAtATime pops a single message per Drain call.
	DrainOneAtATime DrainPolicy = iota
	// DrainAll takes every queued message per Drain call, clearing the queue.
	DrainAll
)

// Queue is the steering or follow-up FIFO (spec §4.3, §4.4). Push is safe to
// call from any goroutine (it is the one piece of Agent state a caller may
// legitimately touch while a turn is mid-flight); Drain is called only from
// the AgentLoop's own thread.
type Queue struct {
	mu     sync.Mutex
	items  []model.Message
	policy DrainPolicy
}

// NewQueue constructs an empty Queue with the given drain policy.
func NewQueue(policy DrainPolicy) *Queue {
	return &Queue{policy: policy}
}

// Push enqueues msg.
func (q *Queue) Push(msg model.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns messages per the configured DrainPolicy: one
// message for DrainOneAtATime, every queued message for DrainAll. An empty
// queue returns nil.
func (q *Queue) Drain() []model.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	switch q.policy {
	case DrainAll:
		out := q.items
		q.items = nil
		return out
	default: // DrainOneAtATime
		out := q.items[:1]
		q.items = q.items[1:]
		return append([]model.Message(nil), out...)
	}
}
