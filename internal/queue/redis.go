package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyField   = "key"
	redisValueField = "value"
	redisBlock      = 2 * time.Second
)

// RedisBroker maps topics onto Redis streams and consumer groups onto
// stream consumer groups. The client is shared by every handle and closed
// with the broker.
type RedisBroker struct {
	client   *redis.Client
	clientID string
	logger   *zap.Logger
}

// NewRedisBroker connects using a redis:// URL.
func NewRedisBroker(url, clientID string, logger *zap.Logger) (*RedisBroker, error) {
	if strings.TrimSpace(url) == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	return NewRedisBrokerWithClient(redis.NewClient(opts), clientID, logger), nil
}

// NewRedisBrokerWithClient wraps an existing client.
func NewRedisBrokerWithClient(client *redis.Client, clientID string, logger *zap.Logger) *RedisBroker {
	if clientID == "" {
		clientID = "contentmod"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, clientID: clientID, logger: logger}
}

// Publisher returns a handle that appends to the stream.
func (b *RedisBroker) Publisher(topic string) (Publisher, error) {
	return &redisPublisher{client: b.client, stream: topic}, nil
}

// Subscriber creates the group if needed and registers a new consumer in it.
func (b *RedisBroker) Subscriber(topic, group string) (Subscriber, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("queue: create redis group %s on %s: %w", group, topic, err)
	}
	consumer := b.clientID + "-" + uuid.NewString()[:8]
	b.logger.Debug("joined stream group",
		zap.String("stream", topic),
		zap.String("group", group),
		zap.String("consumer", consumer))
	return &redisSubscriber{
		client:   b.client,
		stream:   topic,
		group:    group,
		consumer: consumer,
		logger:   b.logger,
		done:     make(chan struct{}),
	}, nil
}

// Close closes the shared client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisPublisher struct {
	client *redis.Client
	stream string
}

func (p *redisPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			redisKeyField:   key,
			redisValueField: string(value),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: redis publish to %s: %w", p.stream, err)
	}
	return nil
}

func (p *redisPublisher) Close() error { return nil }

type redisSubscriber struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
	done     chan struct{}
	once     sync.Once
}

func (s *redisSubscriber) Receive(ctx context.Context) (Message, error) {
	for {
		select {
		case <-s.done:
			return Message{}, ErrClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    1,
			Block:    redisBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("queue: redis read %s: %w", s.stream, err)
		}
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				return s.toMessage(entry), nil
			}
		}
	}
}

func (s *redisSubscriber) toMessage(entry redis.XMessage) Message {
	id := entry.ID
	key, _ := entry.Values[redisKeyField].(string)
	value, _ := entry.Values[redisValueField].(string)
	return Message{
		Key:   key,
		Value: []byte(value),
		ack: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
				s.logger.Warn("stream ack failed", zap.String("stream", s.stream), zap.String("id", id), zap.Error(err))
			}
		},
	}
}

func (s *redisSubscriber) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
