package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// KafkaBroker creates sarama producers and consumer-group members on demand.
// It holds no connections itself.
type KafkaBroker struct {
	brokers  []string
	clientID string
	logger   *zap.Logger
}

// NewKafkaBroker validates the broker list.
func NewKafkaBroker(brokers []string, clientID string, logger *zap.Logger) (*KafkaBroker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("queue: kafka requires at least one broker")
	}
	if clientID == "" {
		clientID = "contentmod"
	}
	return &KafkaBroker{brokers: brokers, clientID: clientID, logger: logger}, nil
}

func (b *KafkaBroker) config() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.ClientID = b.clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.MaxWaitTime = 500 * time.Millisecond
	return cfg
}

// Publisher opens a synchronous producer for the topic.
func (b *KafkaBroker) Publisher(topic string) (Publisher, error) {
	producer, err := sarama.NewSyncProducer(b.brokers, b.config())
	if err != nil {
		return nil, fmt.Errorf("queue: kafka producer: %w", err)
	}
	return NewKafkaPublisher(producer, topic), nil
}

// Subscriber joins the consumer group for the topic.
func (b *KafkaBroker) Subscriber(topic, group string) (Subscriber, error) {
	cg, err := sarama.NewConsumerGroup(b.brokers, group, b.config())
	if err != nil {
		return nil, fmt.Errorf("queue: kafka consumer group %s: %w", group, err)
	}
	return NewKafkaSubscriber(cg, topic, b.logger.With(zap.String("topic", topic), zap.String("group", group))), nil
}

// Close is a no-op; each handle owns its own client.
func (b *KafkaBroker) Close() error { return nil }

// KafkaPublisher writes keyed messages so that one content id always lands
// on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher wraps an existing producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends the message and waits for broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("queue: kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close releases the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaSubscriber adapts sarama's push-style consumer group to a blocking
// Receive. Messages are handed over one at a time; the offset is marked
// only when the caller acks.
type KafkaSubscriber struct {
	group    sarama.ConsumerGroup
	topic    string
	logger   *zap.Logger
	messages chan Message
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewKafkaSubscriber starts the consume loop for the group.
func NewKafkaSubscriber(group sarama.ConsumerGroup, topic string, logger *zap.Logger) *KafkaSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &KafkaSubscriber{
		group:    group,
		topic:    topic,
		logger:   logger,
		messages: make(chan Message),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	go s.drainErrors(ctx)
	return s
}

func (s *KafkaSubscriber) run(ctx context.Context) {
	defer close(s.done)
	handler := claimHandler{out: s.messages}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			s.logger.Warn("consumer group session ended", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *KafkaSubscriber) drainErrors(ctx context.Context) {
	errs := s.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("consumer group error", zap.Error(err))
		}
	}
}

// Receive blocks for the next message.
func (s *KafkaSubscriber) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, ErrClosed
	}
}

// Close leaves the group and waits for the consume loop to exit.
func (s *KafkaSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.group.Close()
		<-s.done
	})
	return err
}

type claimHandler struct {
	out chan<- Message
}

func (claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			delivered := msg
			m := Message{
				Key:   string(msg.Key),
				Value: msg.Value,
				ack:   func() { session.MarkMessage(delivered, "") },
			}
			select {
			case h.out <- m:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
