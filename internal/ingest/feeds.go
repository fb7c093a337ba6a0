package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// NewsType is the content type assigned to feed articles.
const NewsType = "news"

// Submitter accepts content for moderation.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (moderation.ContentItem, error)
}

// FeedIngester periodically pulls RSS/Atom feeds and submits each article.
type FeedIngester struct {
	urls     []string
	parser   *gofeed.Parser
	submit   Submitter
	interval time.Duration
	pace     time.Duration
	logger   *zap.Logger
}

// FeedOption customizes a FeedIngester.
type FeedOption func(*FeedIngester)

// WithInterval sets the delay between full ingestion passes.
func WithInterval(d time.Duration) FeedOption {
	return func(f *FeedIngester) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithPace sets the delay between submitted articles. Zero disables pacing.
func WithPace(d time.Duration) FeedOption {
	return func(f *FeedIngester) {
		if d >= 0 {
			f.pace = d
		}
	}
}

// WithFeedClient sets the HTTP client used to fetch feeds.
func WithFeedClient(client *http.Client) FeedOption {
	return func(f *FeedIngester) {
		if client != nil {
			f.parser.Client = client
		}
	}
}

// NewFeedIngester constructs an ingester. Only http(s) URLs are kept.
func NewFeedIngester(urls []string, submit Submitter, logger *zap.Logger, opts ...FeedOption) *FeedIngester {
	if logger == nil {
		logger = zap.NewNop()
	}
	valid := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			valid = append(valid, u)
		} else if u != "" {
			logger.Warn("ignoring feed url", zap.String("url", u))
		}
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: 30 * time.Second}
	f := &FeedIngester{
		urls:     valid,
		parser:   parser,
		submit:   submit,
		interval: 15 * time.Minute,
		pace:     time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run ingests immediately and then on every interval until ctx is done.
func (f *FeedIngester) Run(ctx context.Context) error {
	if len(f.urls) == 0 {
		f.logger.Info("no feeds configured")
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		n, err := f.IngestOnce(ctx)
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("feed ingestion pass had errors", zap.Error(err))
		}
		f.logger.Info("feed ingestion pass complete", zap.Int("submitted", n))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// IngestOnce fetches every feed once and returns how many articles were
// submitted. Per-feed and per-article errors are joined.
func (f *FeedIngester) IngestOnce(ctx context.Context) (int, error) {
	var (
		submitted int
		errs      []error
	)
	for _, url := range f.urls {
		feed, err := f.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return submitted, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("fetch %s: %w", url, err))
			continue
		}
		f.logger.Debug("fetched feed", zap.String("url", url), zap.Int("items", len(feed.Items)))

		for _, entry := range feed.Items {
			req, ok := articleRequest(feed, entry)
			if !ok {
				continue
			}
			item, err := f.submit.Submit(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return submitted, ctx.Err()
				}
				errs = append(errs, fmt.Errorf("submit %q: %w", req.Metadata["title"], err))
				continue
			}
			submitted++
			f.logger.Info("ingested article", zap.String("content_id", item.ContentID), zap.String("title", req.Metadata["title"]))

			if f.pace > 0 {
				select {
				case <-ctx.Done():
					return submitted, ctx.Err()
				case <-time.After(f.pace):
				}
			}
		}
	}
	return submitted, errors.Join(errs...)
}

// articleRequest maps a feed entry to a submission. Entries without a title
// or body are skipped.
func articleRequest(feed *gofeed.Feed, entry *gofeed.Item) (SubmitRequest, bool) {
	if entry == nil {
		return SubmitRequest{}, false
	}
	title := strings.TrimSpace(entry.Title)
	body := strings.TrimSpace(entry.Content)
	if body == "" {
		body = strings.TrimSpace(entry.Description)
	}
	if title == "" || body == "" {
		return SubmitRequest{}, false
	}

	metadata := map[string]string{
		"title":  title,
		"source": strings.TrimSpace(feed.Title),
		"url":    entry.Link,
	}
	if author := authorOf(entry); author != "" {
		metadata["author"] = author
	}
	switch {
	case entry.PublishedParsed != nil:
		metadata["publishedAt"] = entry.PublishedParsed.UTC().Format(time.RFC3339)
	case entry.Published != "":
		metadata["publishedAt"] = entry.Published
	}
	if image := imageOf(entry); image != "" {
		metadata["imageUrl"] = image
	}

	return SubmitRequest{
		Type:     NewsType,
		Text:     body,
		Metadata: metadata,
		UserID:   SystemUser,
	}, true
}

func authorOf(entry *gofeed.Item) string {
	if entry.Author != nil && entry.Author.Name != "" {
		return entry.Author.Name
	}
	for _, p := range entry.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return ""
}

func imageOf(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
