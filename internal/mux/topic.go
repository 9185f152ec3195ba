package mux

import (
	"sync"

	"github.com/google/uuid"

	"github.com/geotrack/livetrack/internal/queue"
)

// topic fans one typed sub-stream out to any number of subscribers. Each
// subscriber owns a mailbox drained by its own goroutine, so per-subscriber
// order follows publish order and a slow subscriber only grows its own queue.
type topic[T any] struct {
	name   string
	logger Logger

	mu     sync.RWMutex
	subs   map[string]*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	id     string
	name   string
	topic  string
	fn     func(T)
	queue  *queue.Queue[T]
	done   chan struct{}
	logger Logger
}

func newTopic[T any](name string, logger Logger) *topic[T] {
	return &topic[T]{
		name:   name,
		logger: logger,
		subs:   make(map[string]*subscriber[T]),
	}
}

func (t *topic[T]) subscribe(name string, fn func(T)) *Subscription {
	s := &subscriber[T]{
		id:     uuid.NewString(),
		name:   name,
		topic:  t.name,
		fn:     fn,
		queue:  queue.New[T](),
		done:   make(chan struct{}),
		logger: t.logger,
	}

	t.mu.Lock()
	if t.closed {
		s.queue.Close()
	} else {
		t.subs[s.id] = s
	}
	t.mu.Unlock()

	go s.run()

	return &Subscription{
		id:      s.id,
		name:    name,
		topic:   t.name,
		done:    s.done,
		pending: s.queue.Len,
		cancel: func() {
			t.mu.Lock()
			delete(t.subs, s.id)
			t.mu.Unlock()
			s.queue.Close()
		},
	}
}

func (t *topic[T]) publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		s.queue.Push(v)
	}
	return len(t.subs)
}

func (t *topic[T]) observe(fn func(topic, subscriber string, pending int)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		fn(t.name, s.name, s.queue.Len())
	}
}

func (t *topic[T]) pending() int {
	total := 0
	t.observe(func(_, _ string, n int) { total += n })
	return total
}

func (t *topic[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *topic[T]) closeAll() []<-chan struct{} {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*subscriber[T])
	t.closed = true
	t.mu.Unlock()

	done := make([]<-chan struct{}, 0, len(subs))
	for _, s := range subs {
		s.queue.Close()
		done = append(done, s.done)
	}
	return done
}

func (s *subscriber[T]) run() {
	defer close(s.done)
	for range s.queue.Ready() {
		for {
			v, ok := s.queue.Pop()
			if !ok {
				break
			}
			s.deliver(v)
		}
		if s.queue.Closed() {
			return
		}
	}
}

func (s *subscriber[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked", "topic", s.topic, "subscriber", s.name, "panic", r)
		}
	}()
	s.fn(v)
}

// Subscription is a handle on one consumer of a sub-stream.
type Subscription struct {
	id      string
	name    string
	topic   string
	done    <-chan struct{}
	pending func() int
	cancel  func()
	once    sync.Once
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Name returns the consumer name given at subscribe time.
func (s *Subscription) Name() string { return s.name }

// Topic returns the sub-stream this subscription reads.
func (s *Subscription) Topic() string { return s.topic }

// Pending returns the number of events queued but not yet delivered.
func (s *Subscription) Pending() int { return s.pending() }

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the consumer. Undelivered events are discarded. Close does
// not wait for an in-flight callback; use Done for that.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
