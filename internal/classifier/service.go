package classifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

const (
	// SourceRemote marks verdicts produced by the remote API.
	SourceRemote = "remote"
	// SourceHeuristic marks verdicts produced by the keyword classifier.
	SourceHeuristic = "heuristic"

	// DefaultTimeout bounds a single remote classification call.
	DefaultTimeout = 5 * time.Minute
)

// Strategy produces a classification for a content item.
type Strategy interface {
	Classify(ctx context.Context, item moderation.ContentItem) (moderation.Classification, error)
}

// Service runs the primary strategy under a timeout and falls back to the
// keyword heuristic on any failure. There are no retries.
type Service struct {
	primary  Strategy
	fallback Heuristic
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService builds a Service. A nil primary means every item is classified
// by the heuristic.
func NewService(primary Strategy, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		primary:  primary,
		fallback: NewHeuristic(),
		timeout:  timeout,
		logger:   logger,
	}
}

// Classify always returns a verdict.
func (s *Service) Classify(ctx context.Context, item moderation.ContentItem) moderation.Classification {
	if s.primary == nil {
		return s.fallback.Evaluate(item)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.primary.Classify(callCtx, item)
	if err != nil {
		s.logger.Warn("primary classifier failed, using keyword fallback",
			zap.String("content_id", item.ContentID),
			zap.Error(err))
		return s.fallback.Evaluate(item)
	}
	return result
}
