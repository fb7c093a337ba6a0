package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Receive once the subscriber has been closed.
	ErrClosed = errors.New("queue: closed")
	// ErrQueueFull indicates an in-memory topic is saturated.
	ErrQueueFull = errors.New("queue: full")
)

// Message is a single delivery from a topic.
type Message struct {
	Key   string
	Value []byte
	ack   func()
}

// Ack marks the message as handled so the broker will not redeliver it to
// the consumer group.
func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Publisher writes messages to one topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Subscriber reads messages from one topic as a member of a consumer group.
// Receive blocks until a message arrives, the context is cancelled, or the
// subscriber is closed.
type Subscriber interface {
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Broker hands out publisher and subscriber handles. Every handle is owned
// by its caller and must be closed by it.
type Broker interface {
	Publisher(topic string) (Publisher, error)
	Subscriber(topic, group string) (Subscriber, error)
	Close() error
}

// Kind selects a broker backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindKafka  Kind = "kafka"
	KindRedis  Kind = "redis"
)

// Options configures Open.
type Options struct {
	Kind       Kind
	Brokers    []string
	RedisURL   string
	BufferSize int
	ClientID   string
}

// Open constructs the broker selected by opts.Kind.
func Open(opts Options, logger *zap.Logger) (Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch Kind(strings.ToLower(string(opts.Kind))) {
	case KindMemory, "":
		return NewMemoryBroker(opts.BufferSize), nil
	case KindKafka:
		return NewKafkaBroker(opts.Brokers, opts.ClientID, logger.Named("kafka"))
	case KindRedis:
		return NewRedisBroker(opts.RedisURL, opts.ClientID, logger.Named("redis"))
	default:
		return nil, fmt.Errorf("queue: unknown broker kind %q", opts.Kind)
	}
}
