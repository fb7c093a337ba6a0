package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
)

// ErrInvalidSubmission indicates the submission lacks required fields.
var ErrInvalidSubmission = errors.New("ingest: invalid submission")

// SystemUser is the userId stamped on automatically ingested content.
const SystemUser = "system"

// SubmitRequest is the caller-supplied part of a content item.
type SubmitRequest struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	UserID   string            `json:"userId,omitempty"`
}

// Indexer makes submitted content searchable.
type Indexer interface {
	IndexContent(ctx context.Context, item moderation.ContentItem) error
}

// Gateway assigns identity to new content and places it on the inbound queue.
type Gateway struct {
	publisher queue.Publisher
	index     Indexer
	newID     func() string
	clock     func() time.Time
	logger    *zap.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithIDGenerator overrides contentId generation.
func WithIDGenerator(fn func() string) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// WithGatewayClock overrides the ingestion timestamp source.
func WithGatewayClock(fn func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.clock = fn
		}
	}
}

// NewGateway constructs a gateway. index may be nil when search is disabled.
func NewGateway(publisher queue.Publisher, index Indexer, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		publisher: publisher,
		index:     index,
		newID:     uuid.NewString,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit stamps the request with a contentId and timestamp, indexes it and
// publishes it for moderation.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (moderation.ContentItem, error) {
	if strings.TrimSpace(req.Type) == "" {
		return moderation.ContentItem{}, fmt.Errorf("%w: type is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(req.Text) == "" {
		return moderation.ContentItem{}, fmt.Errorf("%w: text is required", ErrInvalidSubmission)
	}

	item := moderation.ContentItem{
		ContentID: g.newID(),
		Type:      strings.TrimSpace(req.Type),
		Title:     req.Title,
		Text:      req.Text,
		Metadata:  moderation.CloneMetadata(req.Metadata),
		UserID:    req.UserID,
		Timestamp: g.clock(),
	}

	if g.index != nil {
		if err := g.index.IndexContent(ctx, item); err != nil {
			g.logger.Warn("index content failed", zap.String("content_id", item.ContentID), zap.Error(err))
		}
	}

	payload, err := moderation.Encode(item)
	if err != nil {
		return moderation.ContentItem{}, err
	}
	if err := g.publisher.Publish(ctx, item.ContentID, payload); err != nil {
		return moderation.ContentItem{}, fmt.Errorf("publish content %s: %w", item.ContentID, err)
	}
	g.logger.Debug("content submitted", zap.String("content_id", item.ContentID), zap.String("type", item.Type))
	return item, nil
}
