package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
)

const receiveErrorBackoff = time.Second

// Worker consumes content items from one subscriber handle.
type Worker struct {
	id        int
	sub       queue.Subscriber
	processor *Processor
	observe   func(Outcome)
	logger    *zap.Logger
}

// NewWorker builds a worker around a subscriber it does not own.
func NewWorker(id int, sub queue.Subscriber, processor *Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{id: id, sub: sub, processor: processor, logger: logger}
}

// Run pulls messages until ctx is cancelled or the subscriber closes. The
// item in flight when ctx is cancelled still runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.Warn("receive failed", zap.Int("worker", w.id), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		outcome := w.processor.Process(context.WithoutCancel(ctx), msg.Value)
		msg.Ack()
		w.report(outcome)
	}
}

func (w *Worker) report(outcome Outcome) {
	if w.observe != nil {
		w.observe(outcome)
	}
	fields := []zap.Field{
		zap.Int("worker", w.id),
		zap.String("stage", string(outcome.Stage)),
		zap.String("content_id", outcome.ContentID),
	}
	switch outcome.Stage {
	case StagePublished:
		w.logger.Info("moderation result published", append(fields, zap.String("status", string(outcome.Result.Status)))...)
	case StageParse:
		w.logger.Warn("dropping malformed content message", append(fields, zap.Error(outcome.Err))...)
	default:
		w.logger.Error("moderation result not published", append(fields, zap.Error(outcome.Err))...)
	}
}

// SubscriberFactory opens a fresh subscriber handle for one worker.
type SubscriberFactory func() (queue.Subscriber, error)

// Pool runs a fixed number of workers, each owning its own subscriber.
type Pool struct {
	workers   int
	open      SubscriberFactory
	processor *Processor
	observe   func(Outcome)
	logger    *zap.Logger

	mu        sync.Mutex
	subs      []queue.Subscriber
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithObserver registers a callback invoked after every processed message.
func WithObserver(fn func(Outcome)) PoolOption {
	return func(p *Pool) { p.observe = fn }
}

// NewPool constructs a worker pool.
func NewPool(workers int, open SubscriberFactory, processor *Processor, logger *zap.Logger, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		workers:   workers,
		open:      open,
		processor: processor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens one subscriber per worker and launches the worker goroutines.
// If any subscriber cannot be opened the handles already acquired are
// released and the error is returned.
func (p *Pool) Start(ctx context.Context) error {
	var startErr error
	p.startOnce.Do(func() {
		subs := make([]queue.Subscriber, 0, p.workers)
		for i := 0; i < p.workers; i++ {
			sub, err := p.open()
			if err != nil {
				for _, s := range subs {
					_ = s.Close()
				}
				startErr = fmt.Errorf("worker %d: open subscriber: %w", i, err)
				return
			}
			subs = append(subs, sub)
		}

		runCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.subs = subs
		p.cancel = cancel
		p.mu.Unlock()

		for i, sub := range subs {
			w := NewWorker(i, sub, p.processor, p.logger)
			w.observe = p.observe
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				_ = w.Run(runCtx)
			}()
		}
		p.logger.Info("worker pool started", zap.Int("workers", len(subs)))
	})
	return startErr
}

// Stop stops pulling new items, waits for in-flight items and releases the
// subscriber handles.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel, subs := p.cancel, p.subs
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		for _, sub := range subs {
			if err := sub.Close(); err != nil {
				p.logger.Warn("close subscriber", zap.Error(err))
			}
		}
		p.logger.Info("worker pool stopped")
	})
}
