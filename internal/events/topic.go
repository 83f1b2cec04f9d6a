// Package events provides typed, fire-and-forget pub/sub used between pipeline stages.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener receives a topic payload.
type Listener[T any] func(T)

type entry[T any] struct {
	fn Listener[T]
	id uint64
}

// Topic is a single typed event stream. Listeners run synchronously on the
// emitting goroutine in registration order; a panicking listener is logged
// and the remaining listeners still fire.
type Topic[T any] struct {
	name      string
	listeners []entry[T]
	nextID    uint64
	mu        sync.RWMutex
}

// NewTopic creates a topic with a name used in logs and SSE frames.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn Listener[T]) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, entry[T]{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, e := range t.listeners {
			if e.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAny registers an untyped listener that also receives the topic name.
func (t *Topic[T]) SubscribeAny(fn func(name string, payload any)) func() {
	return t.Subscribe(func(v T) { fn(t.name, v) })
}

// Emit delivers v to every listener registered at call time.
func (t *Topic[T]) Emit(v T) {
	t.mu.RLock()
	snapshot := make([]entry[T], len(t.listeners))
	copy(snapshot, t.listeners)
	t.mu.RUnlock()

	for _, e := range snapshot {
		t.call(e.fn, v)
	}
}

// Len returns the number of registered listeners.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}

func (t *Topic[T]) call(fn Listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", t.name).Str("panic", fmt.Sprint(r)).Msg("Event listener failed")
		}
	}()
	fn(v)
}
