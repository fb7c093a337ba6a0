package distributor

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/search"
)

const receiveErrorBackoff = time.Second

// Sink receives every result after the store write was attempted. Sink
// errors are logged and never stop the loop.
type Sink interface {
	Consume(moderation.AnalysisResult) error
}

// Distributor persists analysis results and fans them out to sinks.
type Distributor struct {
	sub     queue.Subscriber
	store   search.Store
	sinks   []Sink
	retries uint64
	backoff time.Duration
	logger  *zap.Logger
}

// Option customizes a Distributor.
type Option func(*Distributor)

// WithStoreRetries sets how many times a failed store write is retried.
func WithStoreRetries(retries uint64, backoff time.Duration) Option {
	return func(d *Distributor) {
		d.retries = retries
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// WithSink registers a best-effort sink.
func WithSink(s Sink) Option {
	return func(d *Distributor) {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
}

// New constructs a distributor reading from sub and writing to store. The
// subscriber is borrowed; the caller closes it after Run returns.
func New(sub queue.Subscriber, store search.Store, logger *zap.Logger, opts ...Option) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Distributor{
		sub:     sub,
		store:   store,
		retries: 3,
		backoff: 200 * time.Millisecond,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes results until ctx is cancelled or the subscriber closes.
func (d *Distributor) Run(ctx context.Context) error {
	d.logger.Info("result distributor started", zap.Int("sinks", len(d.sinks)))
	defer d.logger.Info("result distributor stopped")
	for {
		msg, err := d.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			d.logger.Warn("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}
		_ = d.Handle(context.WithoutCancel(ctx), msg.Value)
		msg.Ack()
	}
}

// Handle processes one encoded result. It returns the decode or store error,
// after logging it, so callers can observe what happened to the message.
func (d *Distributor) Handle(ctx context.Context, payload []byte) error {
	result, err := moderation.DecodeAnalysisResult(payload)
	if err != nil {
		d.logger.Warn("dropping malformed result message", zap.String("stage", "parse"), zap.Error(err))
		return err
	}

	storeErr := d.upsert(ctx, result)
	if storeErr != nil {
		d.logger.Error("store write failed",
			zap.String("stage", "store"),
			zap.String("content_id", result.ContentID),
			zap.Error(storeErr))
	}

	for _, sink := range d.sinks {
		if err := sink.Consume(result); err != nil {
			d.logger.Warn("result sink error",
				zap.String("content_id", result.ContentID),
				zap.Error(err))
		}
	}
	return storeErr
}

func (d *Distributor) upsert(ctx context.Context, result moderation.AnalysisResult) error {
	backoff := retry.WithMaxRetries(d.retries, retry.NewExponential(d.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.store.UpsertResult(ctx, result); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
