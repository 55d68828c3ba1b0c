package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Broker is the message-broker contract: publish to a topic, consume a
// topic as a stream. The engine is written against this interface so an
// AMQP transport can replace the in-process implementation without touching
// the workers.
type Broker interface {
	// Publish sends one payload to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Consume returns the stream of payloads published to a topic.
	Consume(topic string) (<-chan []byte, error)
	// Close tears down the broker.
	Close() error
}

// InProcBroker is a channel-backed Broker for single-process deployments
// and tests. Each topic has one stream; consumers share it.
type InProcBroker struct {
	mu     sync.Mutex
	topics map[string]chan []byte
	closed bool
}

// NewInProcBroker creates an empty in-process broker.
func NewInProcBroker() *InProcBroker {
	return &InProcBroker{topics: make(map[string]chan []byte)}
}

func (b *InProcBroker) topic(name string) chan []byte {
	if ch, ok := b.topics[name]; ok {
		return ch
	}
	ch := make(chan []byte, DefaultChannelBufferSize)
	b.topics[name] = ch
	return ch
}

// Publish sends one payload to a topic, dropping it with a log line when
// the topic buffer is full rather than blocking a worker loop.
func (b *InProcBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrServiceStopped
	}
	select {
	case b.topic(topic) <- payload:
		return nil
	default:
		slog.Warn("InProcBroker.Publish: topic buffer full, dropping", "topic", topic)
		return fmt.Errorf("topic %s buffer full", topic)
	}
}

// Consume returns the stream of a topic.
func (b *InProcBroker) Consume(topic string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrServiceStopped
	}
	return b.topic(topic), nil
}

// Close closes every topic channel.
func (b *InProcBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.topics {
		close(ch)
	}
	return nil
}

// PublishJSON marshals a value and publishes it.
func PublishJSON(ctx context.Context, b Broker, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}
