package driver

import "sync"

// Subscription is a handle to one event subscription
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Unsubscribe detaches the handler. Safe to call more than once
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

type subscriber[T any] struct {
	id      int
	handler func(T)
}

// event is a publish/subscribe channel owned by the driver. Delivery is synchronous and
// in subscription order, within the turn that produced the value
type event[T any] struct {
	mu          sync.Mutex
	nextID      int
	subscribers []subscriber[T]
}

func (e *event[T]) subscribe(handler func(T)) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subscribers = append(e.subscribers, subscriber[T]{id: id, handler: handler})

	return &Subscription{cancel: func() { e.unsubscribe(id) }}
}

func (e *event[T]) unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscribers {
		if sub.id == id {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

func (e *event[T]) publish(value T) {
	e.mu.Lock()
	handlers := make([]func(T), len(e.subscribers))
	for i, sub := range e.subscribers {
		handlers[i] = sub.handler
	}
	e.mu.Unlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe freely
	for _, handler := range handlers {
		handler(value)
	}
}

func (e *event[T]) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = nil
}
