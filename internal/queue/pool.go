package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("queue: shard is full")
	ErrClosed    = errors.New("queue: pool is stopped")
)

// Event is one inbound message waiting for dispatch. Ack, if set, is called
// after the handler returns.
type Event struct {
	ID         string
	ContactID  string
	Text       string
	ReceivedAt time.Time
	Ack        func()
}

type Handler func(ctx context.Context, ev Event)

// Pool runs a fixed number of workers, each draining its own bounded shard.
// Events with the same ContactID always land on the same shard, so one
// contact's messages are handled in arrival order.
type Pool struct {
	shards  []chan Event
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewPool(workers, size int, h Handler, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	shards := make([]chan Event, workers)
	for i := range shards {
		shards[i] = make(chan Event, size)
	}
	return &Pool{shards: shards, handler: h, logger: logger}
}

// Start launches the workers. ctx is passed to every handler call; cancelling
// it does not stop the workers, Stop does.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.work(ctx, i, ch)
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.shards)), zap.Int("queue_size", cap(p.shards[0])))
}

// Submit enqueues ev without blocking.
func (p *Pool) Submit(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.shards[p.shardFor(ev.ContactID)] <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new events and waits until every queued event is handled.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	p.wg.Wait()
	p.logger.Info("worker pool drained")
}

func (p *Pool) shardFor(contactID string) int {
	return int(xxhash.Sum64String(contactID) % uint64(len(p.shards)))
}

func (p *Pool) work(ctx context.Context, shard int, ch <-chan Event) {
	defer p.wg.Done()
	for ev := range ch {
		p.handle(ctx, shard, ev)
	}
}

func (p *Pool) handle(ctx context.Context, shard int, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				zap.Int("shard", shard),
				zap.String("event_id", ev.ID),
				zap.Any("panic", r))
		}
		if ev.Ack != nil {
			ev.Ack()
		}
	}()
	p.handler(ctx, ev)
}
