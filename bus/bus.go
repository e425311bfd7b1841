// Package bus is the local publish/subscribe surface consumed by HUD and
// rendering collaborators. Topics are typed; delivery is synchronous on the
// publisher's goroutine.
package bus

import "sync"

// Topic names a stream whose payloads are of type T.
type Topic[T any] struct {
	name string
}

func (t Topic[T]) String() string { return t.name }

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(any)
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[int]func(any))}
}

// Subscribe registers fn for topic and returns a function that removes it.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[topic.name] == nil {
		b.subs[topic.name] = make(map[int]func(any))
	}
	b.subs[topic.name][id] = func(v any) { fn(v.(T)) }

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic.name], id)
	}
}

// Publish delivers v to every subscriber of topic. A nil bus drops it.
func Publish[T any](b *Bus, topic Topic[T], v T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]func(any), 0, len(b.subs[topic.name]))
	for _, h := range b.subs[topic.name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}
