package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/decision"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
)

// Stage identifies how far an item got through the pipeline.
type Stage string

const (
	StageParse     Stage = "parse"
	StageClassify  Stage = "classify"
	StageDecide    Stage = "decide"
	StagePublish   Stage = "publish"
	StagePublished Stage = "published"
)

// Outcome is the tagged result of processing one message. Err is set when
// Stage is the stage that failed; a successful run ends at StagePublished.
type Outcome struct {
	Stage     Stage
	ContentID string
	Result    moderation.AnalysisResult
	Err       error
}

// OK reports whether the result reached the outbound queue.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Stage == StagePublished
}

// Classifier never fails; it always produces a verdict.
type Classifier interface {
	Classify(ctx context.Context, item moderation.ContentItem) moderation.Classification
}

// Processor runs parse, classify, decide and publish for one message.
type Processor struct {
	classifier Classifier
	engine     decision.Engine
	publisher  queue.Publisher
	retries    uint64
	backoff    time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithPublishRetries sets how many times a failed publish is retried.
func WithPublishRetries(retries uint64, backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.retries = retries
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// WithClock overrides the decision timestamp source.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the processor logger.
func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor wires the classification service, decision engine and the
// outbound publisher. The publisher is borrowed, not owned.
func NewProcessor(classifier Classifier, engine decision.Engine, publisher queue.Publisher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		classifier: classifier,
		engine:     engine,
		publisher:  publisher,
		backoff:    200 * time.Millisecond,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles a raw inbound payload. Nothing is published unless the
// decision stage completed.
func (p *Processor) Process(ctx context.Context, payload []byte) Outcome {
	item, err := moderation.DecodeContentItem(payload)
	if err != nil {
		return Outcome{Stage: StageParse, Err: err}
	}

	classification := p.classifier.Classify(ctx, item)
	p.logger.Debug("classified",
		zap.String("content_id", item.ContentID),
		zap.String("category", string(classification.Category)),
		zap.Float64("confidence", classification.Confidence),
		zap.String("source", classification.Source))

	verdict := p.engine.Decide(classification)
	result := moderation.AnalysisResult{
		ContentID: item.ContentID,
		Analysis:  analysisPayload(classification),
		Score:     classification.Confidence,
		Status:    verdict.Status,
		Timestamp: p.clock(),
	}
	encoded, err := moderation.Encode(result)
	if err != nil {
		return Outcome{Stage: StagePublish, ContentID: item.ContentID, Result: result, Err: err}
	}

	if err := p.publish(ctx, item.ContentID, encoded); err != nil {
		return Outcome{Stage: StagePublish, ContentID: item.ContentID, Result: result, Err: err}
	}
	return Outcome{Stage: StagePublished, ContentID: item.ContentID, Result: result}
}

func (p *Processor) publish(ctx context.Context, key string, value []byte) error {
	backoff := retry.WithMaxRetries(p.retries, retry.NewExponential(p.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.publisher.Publish(ctx, key, value)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p.logger.Debug("publish attempt failed", zap.String("content_id", key), zap.Error(err))
		return retry.RetryableError(err)
	})
}

func analysisPayload(c moderation.Classification) string {
	if c.Raw != "" {
		return c.Raw
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}
