package agent

import (
	"sync"
	"time"

	"github.com/paseo-dev/paseod/internal/provider"
)

// QueuedInput is one pending send_agent_message waiting for the current
// turn to finish.
type QueuedInput struct {
	Input    provider.TurnInput
	QueuedAt time.Time
}

// InputQueue is the per-agent FIFO of inputs that arrived while a turn was
// running. Per the retain-and-replace policy, cancellation never drops
// queued input; an explicit replace-on-send-now call does. Grounded on the
// teacher's orchestrator/queue package's mutex-guarded-slice structuring,
// simplified from a cross-agent priority heap to a single agent's ordered
// FIFO, since ordering across agents has no meaning here.
type InputQueue struct {
	mu    sync.Mutex
	items []QueuedInput
}

// NewInputQueue returns an empty queue.
func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

// Push appends input to the back of the queue.
func (q *InputQueue) Push(input provider.TurnInput) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, QueuedInput{Input: input, QueuedAt: time.Now()})
}

// Pop removes and returns the front of the queue, or false if empty.
func (q *InputQueue) Pop() (QueuedInput, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedInput{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Replace discards every queued input and pushes input as the sole
// pending item, implementing "explicit replace on send-now".
func (q *InputQueue) Replace(input provider.TurnInput) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = []QueuedInput{{Input: input, QueuedAt: time.Now()}}
}

// Len returns the number of pending inputs.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all pending input without replacing it.
func (q *InputQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
