package events

import (
	"sync"
)

// Handler reacts to a published value.
type Handler[T any] func(T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Emitter is an in-process, typed pub/sub with explicit unsubscribe.
// Handlers run synchronously in registration order.
type Emitter[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

// NewEmitter constructs an emitter without subscribers.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Subscribe registers handler and returns a function removing it.
// Calling the returned function more than once is a no-op.
func (e *Emitter[T]) Subscribe(handler Handler[T]) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription[T]{id: id, handler: handler})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers value to a snapshot of the current subscribers.
// Handlers added or removed during delivery affect only later publishes.
func (e *Emitter[T]) Publish(value T) int {
	if e == nil {
		return 0
	}

	e.mu.RLock()
	handlers := make([]Handler[T], len(e.subs))
	for i, s := range e.subs {
		handlers[i] = s.handler
	}
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(value)
	}
	return len(handlers)
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
