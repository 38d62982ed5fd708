// Package feed delivers snapshot-written notices between service instances
// over Kafka, so every instance can re-load a diary its peer just wrote.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notice is the change-feed message emitted after each snapshot write.
type Notice struct {
	DiaryKey  string    `json:"diaryKey"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry fans inbound notices out to per-key subscribers.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	key     string
	handler func()
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int]subscription)}
}

// Subscribe registers a handler for the key and returns its cancel function.
func (r *Registry) Subscribe(key string, handler func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = subscription{key: key, handler: handler}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Dispatch invokes every handler subscribed to the key.
func (r *Registry) Dispatch(key string) {
	r.mu.Lock()
	handlers := make([]func(), 0, 1)
	for _, sub := range r.subs {
		if sub.key == key {
			handlers = append(handlers, sub.handler)
		}
	}
	r.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}

// Feed is the Kafka-backed change feed: Notify publishes a Notice keyed by
// diary key, Subscribe registers for notices dispatched by the Listener.
type Feed struct {
	producer messageWriter
	registry *Registry
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// New constructs a Feed over the producer and registry.
func New(producer *Producer, registry *Registry) *Feed {
	return &Feed{producer: producer, registry: registry}
}

// Notify publishes a snapshot-written notice for the key. The producer owns
// the topic.
func (f *Feed) Notify(ctx context.Context, key string) error {
	body, err := json.Marshal(Notice{DiaryKey: key, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return f.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// Subscribe registers a handler for the key's notices.
func (f *Feed) Subscribe(key string, handler func()) func() {
	return f.registry.Subscribe(key, handler)
}
