package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"autopilot/internal/metrics"
)

// Request is a message the decision engine chose to answer.
type Request struct {
	ConversationID string
	Content        string
	DedupeKey      string
	AuthorID       string
}

// Gate is the process-wide reply lock. Only one reply is generated and
// delivered at a time.
type Gate struct {
	mu sync.Mutex
}

// TryAcquire takes the gate without blocking.
func (g *Gate) TryAcquire() bool { return g.mu.TryLock() }

// Release frees the gate.
func (g *Gate) Release() { g.mu.Unlock() }

// Queue is a FIFO of reply requests drained by at most one goroutine.
type Queue struct {
	mu       sync.Mutex
	items    []Request
	draining bool
	wg       sync.WaitGroup

	handle   func(ctx context.Context, req Request)
	answered func(ctx context.Context, req Request) bool
	onDrop   func(req Request)
	logger   *slog.Logger
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Handle func(ctx context.Context, req Request)
	// AlreadyAnswered is consulted for every item that is not the last one
	// waiting. Optional.
	AlreadyAnswered func(ctx context.Context, req Request) bool
	OnDrop          func(req Request) // optional
	Logger          *slog.Logger
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		handle:   cfg.Handle,
		answered: cfg.AlreadyAnswered,
		onDrop:   cfg.OnDrop,
		logger:   cfg.Logger,
	}
}

// Enqueue appends a request and starts the drain loop if it is not running.
func (q *Queue) Enqueue(ctx context.Context, req Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	metrics.QueueDepth.Set(int64(len(q.items)))
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(ctx)
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the drain loop is idle.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.items) == 0 || ctx.Err() != nil {
			if n := len(q.items); n > 0 {
				q.logger.Info("queue abandoned on shutdown", "pending", n)
			}
			q.items = nil
			q.draining = false
			metrics.QueueDepth.Set(0)
			q.mu.Unlock()
			return
		}
		req := q.items[0]
		q.items = q.items[1:]
		remaining := len(q.items)
		metrics.QueueDepth.Set(int64(remaining))
		q.mu.Unlock()

		q.process(ctx, req, remaining > 0)
	}
}

// process runs one request. A panic is logged and the loop moves on.
func (q *Queue) process(ctx context.Context, req Request, more bool) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("reply request panicked",
				"conversation", req.ConversationID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if more && q.answered != nil && q.answered(ctx, req) {
		q.logger.Info("dropping already answered request", "conversation", req.ConversationID)
		if q.onDrop != nil {
			q.onDrop(req)
		}
		return
	}
	q.handle(ctx, req)
}
