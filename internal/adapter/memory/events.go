package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// Events records published job events.
type Events struct {
	mu     sync.Mutex
	events []worker.Event
}

// PublishBatch appends events.
func (e *Events) PublishBatch(_ context.Context, events []worker.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

// All returns the events published so far.
func (e *Events) All() []worker.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

// Objects is an in-memory object store.
type Objects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewObjects creates an empty object store.
func NewObjects() *Objects {
	return &Objects{objects: make(map[string][]byte)}
}

// Put stores a copy of data under key, replacing any existing object.
func (o *Objects) Put(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = slices.Clone(data)
	return nil
}

// Get returns the object at key.
func (o *Objects) Get(key string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	return data, ok
}

// Keys lists stored keys in sorted order.
func (o *Objects) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, len(o.objects))
	for k := range o.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
