package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/one-account/one-account-api/internal/safego"
)

var (
	// ErrQueueFull is returned when the buffer has no room for another message
	ErrQueueFull = errors.New("notification queue is full")
	// ErrQueueClosed is returned after Stop
	ErrQueueClosed = errors.New("notification queue is closed")
)

// sendTimeout bounds one delivery attempt by a worker
const sendTimeout = 30 * time.Second

// Queue delivers messages asynchronously through next using a fixed pool of
// workers. Send never blocks.
type Queue struct {
	next   Sender
	jobs   chan Message
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers draining a buffer of size messages
func NewQueue(next Sender, size, workers int) *Queue {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{next: next, jobs: make(chan Message, size)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		safego.Go("notify-queue-worker", q.work)
	}
	return q
}

// Send implements Sender by enqueueing msg
func (q *Queue) Send(_ context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new messages and waits for queued ones to be delivered
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for msg := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := q.next.Send(ctx, msg); err != nil {
			slog.Error("failed to deliver email", "to", msg.To, "subject", msg.Subject, "error", err)
		}
		cancel()
	}
}
