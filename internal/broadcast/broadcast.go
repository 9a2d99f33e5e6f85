// Package broadcast fans a full-log snapshot out to subscribers.
//
// Each subscriber has its own delivery goroutine and a bounded FIFO of pending snapshots,
// so every publish reaches every subscriber once, in order, and a slow subscriber never
// holds up the publisher or the others. Only when a subscriber falls MaxPending publishes
// behind is its oldest pending snapshot dropped. Panics in handlers are recovered and logged.
package broadcast

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/logging"
)

// MaxPending bounds the undelivered snapshots held per subscriber.
const MaxPending = 1024

// Handler receives the full log, most recent first.
type Handler[T any] func(items []T)

type subscriber[T any] struct {
	id      int
	handler Handler[T]
	wake    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	pending [][]T
}

// Broadcaster delivers snapshots to subscribers.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	nextID   int
	subs     map[int]*subscriber[T]
	snapshot func() []T
	logger   *zap.Logger
	wg       sync.WaitGroup
	closed   bool
}

// New creates a broadcaster. snapshot returns the current full log for new subscribers.
func New[T any](snapshot func() []T, logger *zap.Logger) *Broadcaster[T] {
	return &Broadcaster[T]{
		subs:     make(map[int]*subscriber[T]),
		snapshot: snapshot,
		logger:   logging.OrNop(logger),
	}
}

// Subscribe registers handler and invokes it once, before returning, with the current log.
// The returned function unsubscribes; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe(handler Handler[T]) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	s := &subscriber[T]{
		id:      b.nextID,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subs[s.id] = s
	initial := b.snapshot()
	b.mu.Unlock()

	b.deliver(s, initial)

	b.wg.Add(1)
	go b.loop(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s.id]; ok {
				delete(b.subs, s.id)
				close(s.done)
			}
			b.mu.Unlock()
		})
	}
}

// Publish queues items for every subscriber without waiting for delivery.
func (b *Broadcaster[T]) Publish(items []T) {
	b.mu.Lock()
	subs := make([]*subscriber[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if len(s.pending) >= MaxPending {
			s.pending[0] = nil
			s.pending = s.pending[1:]
			b.logger.Warn("subscriber backlog full, dropping oldest snapshot", zap.Int("subscriber", s.id))
		}
		s.pending = append(s.pending, items)
		s.mu.Unlock()

		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone and waits for delivery goroutines to exit.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, s := range b.subs {
			delete(b.subs, id)
			close(s.done)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broadcaster[T]) loop(s *subscriber[T]) {
	defer b.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for items, ok := s.next(); ok; items, ok = s.next() {
				select {
				case <-s.done:
					return
				default:
				}
				b.deliver(s, items)
			}
		}
	}
}

// next pops the oldest pending snapshot.
func (s *subscriber[T]) next() ([]T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	items := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return items, true
}

func (b *Broadcaster[T]) deliver(s *subscriber[T], items []T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.Int("subscriber", s.id), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.handler(items)
}
