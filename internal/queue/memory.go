package queue

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker. All subscribers of a topic share one
// channel, so each message reaches exactly one of them regardless of group.
type MemoryBroker struct {
	mu     sync.Mutex
	buffer int
	topics map[string]chan Message
}

// NewMemoryBroker constructs a broker whose topics buffer up to buffer messages.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBroker{buffer: buffer, topics: make(map[string]chan Message)}
}

func (b *MemoryBroker) topic(name string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan Message, b.buffer)
		b.topics[name] = ch
	}
	return ch
}

// Publisher returns a handle that writes to the topic.
func (b *MemoryBroker) Publisher(topic string) (Publisher, error) {
	return &memoryPublisher{ch: b.topic(topic)}, nil
}

// Subscriber returns a handle that reads from the topic.
func (b *MemoryBroker) Subscriber(topic, _ string) (Subscriber, error) {
	return &memorySubscriber{ch: b.topic(topic), done: make(chan struct{})}, nil
}

// Close is a no-op; in-flight messages stay readable until the process exits.
func (b *MemoryBroker) Close() error { return nil }

type memoryPublisher struct {
	ch chan Message
}

func (p *memoryPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := make([]byte, len(value))
	copy(payload, value)
	select {
	case p.ch <- Message{Key: key, Value: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *memoryPublisher) Close() error { return nil }

type memorySubscriber struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscriber) Receive(ctx context.Context) (Message, error) {
	select {
	case <-s.done:
		return Message{}, ErrClosed
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrClosed
	}
}

func (s *memorySubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
