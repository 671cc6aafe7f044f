// Package bus implements the workspace analysis engine's typed,
// in-process publish/subscribe event bus (spec.md §4.1, component C1).
//
// Grounded on the teacher's progress/reporter.ChannelReporter: a
// non-blocking, buffered delivery path with a per-handler deadline so a
// slow subscriber can never back-pressure the publisher; each skipped or
// failing subscriber is logged individually rather than counted in
// metrics (metrics are a Non-goal here).
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultHandlerDeadline is the per-handler timeout after which a
// subscriber is logged and skipped (spec.md §4.1: "default 5 s").
const DefaultHandlerDeadline = 5 * time.Second

// FileIndexedEvent reports the outcome of indexing a single file.
type FileIndexedEvent struct {
	Path    string
	Symbols int
	Err     error
}

// WorkspaceIndexedEvent reports the outcome of a full workspace index pass.
type WorkspaceIndexedEvent struct {
	Root       string
	Files      int
	Symbols    int
	DurationMs int64
}

// DocumentChangedEvent reports that a document's authoritative text moved
// to a new version, and the outcome of recompiling it.
type DocumentChangedEvent struct {
	URI        string
	Version    int
	ErrorCount int
}

// subscriber is a type-erased handler plus the id that identifies it in
// log records, invoked in registration order.
type subscriber struct {
	id int
	fn func(ctx context.Context, event any)
}

// Bus is a typed, synchronous-within-topic publish/subscribe hub. Each
// topic gets its own dispatcher goroutine and ordered delivery queue so
// that publication order is preserved per topic even though topics
// progress independently of one another.
type Bus struct {
	log             logr.Logger
	handlerDeadline time.Duration

	mu          sync.Mutex
	subscribers map[string][]subscriber
	queues      map[string]chan func()
	nextID      int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithHandlerDeadline overrides DefaultHandlerDeadline.
func WithHandlerDeadline(d time.Duration) Option {
	return func(b *Bus) { b.handlerDeadline = d }
}

// New constructs a Bus bound to ctx; the bus stops dispatching once ctx is
// cancelled or Stop is called.
func New(ctx context.Context, log logr.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(ctx)
	b := &Bus{
		log:             log.WithName("bus"),
		handlerDeadline: DefaultHandlerDeadline,
		subscribers:     make(map[string][]subscriber),
		queues:          make(map[string]chan func()),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Stop cancels all dispatcher goroutines and waits for them to drain.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

func topicKey[T any]() string {
	var zero T
	return topicName(zero)
}

func topicName(v any) string {
	switch v.(type) {
	case FileIndexedEvent:
		return "FileIndexedEvent"
	case WorkspaceIndexedEvent:
		return "WorkspaceIndexedEvent"
	case DocumentChangedEvent:
		return "DocumentChangedEvent"
	default:
		return "unknown"
	}
}

// Subscribe registers fn to be invoked, in registration order, on every
// event of type T published after registration. Subscribers must not
// block indefinitely - they are given handlerDeadline before the bus logs
// and moves on without awaiting them further.
func Subscribe[T any](b *Bus, fn func(ctx context.Context, event T)) {
	topic := topicKey[T]()

	b.mu.Lock()
	queue, ok := b.queues[topic]
	if !ok {
		queue = make(chan func(), 256)
		b.queues[topic] = queue
		b.wg.Add(1)
		go b.dispatch(topic, queue)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{
		id: id,
		fn: func(ctx context.Context, event any) {
			fn(ctx, event.(T))
		},
	})
	b.mu.Unlock()
}

// dispatch runs on a dedicated goroutine per topic, delivering queued
// closures (each of which already fans out to all subscribers at publish
// time) in order.
func (b *Bus) dispatch(topic string, queue chan func()) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			job()
		}
	}
}

// Publish delivers event to every subscriber registered for T, in
// registration order, on T's dedicated dispatcher goroutine. Publish
// itself never blocks on subscriber execution - it only blocks briefly to
// enqueue, preserving at-least-once, order-preserving delivery without
// back-pressuring the publisher.
func Publish[T any](b *Bus, event T) {
	topic := topicKey[T]()

	b.mu.Lock()
	queue, ok := b.queues[topic]
	subs := make([]subscriber, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.Unlock()

	if !ok || len(subs) == 0 {
		return
	}

	job := func() {
		for _, s := range subs {
			b.invokeWithDeadline(s, event)
		}
	}

	select {
	case queue <- job:
	case <-b.ctx.Done():
	}
}

func (b *Bus) invokeWithDeadline(s subscriber, event any) {
	ctx, cancel := context.WithTimeout(b.ctx, b.handlerDeadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.log.Info("subscriber panicked, skipping", "subscriber", s.id, "panic", r)
			}
		}()
		s.fn(ctx, event)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.log.Info("subscriber exceeded handler deadline, skipping", "subscriber", s.id, "deadline", b.handlerDeadline)
	}
}
