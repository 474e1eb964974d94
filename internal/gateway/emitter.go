package gateway

import (
	"sync"
)

// emitter fans changes out to per-entity listeners.
type emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]func(Change)
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string]map[int]func(Change))}
}

// on registers fn for entity and returns its unsubscribe func.
func (e *emitter) on(entity string, fn func(Change)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.listeners[entity] == nil {
		e.listeners[entity] = make(map[int]func(Change))
	}
	e.listeners[entity][id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners[entity], id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) emit(c Change) {
	e.mu.RLock()
	fns := make([]func(Change), 0, len(e.listeners[c.Entity]))
	for _, fn := range e.listeners[c.Entity] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
