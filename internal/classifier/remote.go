package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

const (
	// DefaultEndpoint is the chat completions endpoint used when none is configured.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "gpt-4o"

	maxResponseBytes = 1 << 20
)

// RemoteConfig captures the settings needed to reach the classification API.
type RemoteConfig struct {
	APIKey   string
	Endpoint string
	Model    string
}

// StatusError reports a non-success HTTP status from the classification API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier: http %d: %s", e.StatusCode, snippet(e.Body))
}

// MalformedError reports a response that does not carry a usable verdict.
type MalformedError struct {
	Reason  string
	Payload string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("classifier: malformed verdict: %s (payload: %s)", e.Reason, snippet(e.Payload))
}

var errMissingAPIKey = errors.New("classifier: api key required")

// Remote classifies content through a chat-completions style API.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// RemoteOption customizes the remote strategy.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// NewRemote constructs the remote strategy. The call timeout is enforced by
// the Service through the request context.
func NewRemote(cfg RemoteConfig, opts ...RemoteOption) *Remote {
	r := &Remote{
		cfg: RemoteConfig{
			APIKey:   strings.TrimSpace(cfg.APIKey),
			Endpoint: strings.TrimSpace(cfg.Endpoint),
			Model:    strings.TrimSpace(cfg.Model),
		},
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.Endpoint == "" {
		r.cfg.Endpoint = DefaultEndpoint
	}
	if r.cfg.Model == "" {
		r.cfg.Model = DefaultModel
	}
	return r
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Flagged    *bool    `json:"flagged"`
}

// Classify sends the item to the API and parses the verdict.
func (r *Remote) Classify(ctx context.Context, item moderation.ContentItem) (moderation.Classification, error) {
	var empty moderation.Classification
	if r.cfg.APIKey == "" {
		return empty, errMissingAPIKey
	}
	body, err := r.send(ctx, chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: UserPrompt(item)},
		},
	})
	if err != nil {
		return empty, err
	}
	return parseVerdict(extractContent(body))
}

func (r *Remote) send(ctx context.Context, payload chatRequest) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("classifier: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("classifier: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("classifier: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// extractContent unwraps a chat completion envelope. A body that is not an
// envelope is taken to be the verdict itself.
func extractContent(body []byte) string {
	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err == nil {
		for _, choice := range completion.Choices {
			if content := strings.TrimSpace(choice.Message.Content); content != "" {
				return content
			}
		}
	}
	return strings.TrimSpace(string(body))
}

func parseVerdict(content string) (moderation.Classification, error) {
	var empty moderation.Classification
	payload := sanitizeJSON(content)
	if payload == "" {
		return empty, &MalformedError{Reason: "empty payload", Payload: content}
	}
	var v verdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return empty, &MalformedError{Reason: err.Error(), Payload: payload}
	}
	switch {
	case v.Category == nil:
		return empty, &MalformedError{Reason: "category missing", Payload: payload}
	case v.Confidence == nil:
		return empty, &MalformedError{Reason: "confidence missing", Payload: payload}
	case v.Flagged == nil:
		return empty, &MalformedError{Reason: "flagged missing", Payload: payload}
	}
	category, ok := moderation.ParseCategory(*v.Category)
	if !ok {
		return empty, &MalformedError{Reason: "unknown category " + *v.Category, Payload: payload}
	}
	if *v.Confidence < 0 || *v.Confidence > 100 {
		return empty, &MalformedError{Reason: fmt.Sprintf("confidence %v out of range", *v.Confidence), Payload: payload}
	}
	reasons := v.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return moderation.Classification{
		Category:   category,
		Confidence: *v.Confidence,
		Reasons:    reasons,
		Raw:        payload,
		Source:     SourceRemote,
	}, nil
}

// sanitizeJSON strips markdown code fences and surrounding prose.
func sanitizeJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return trimmed[start : end+1]
		}
	}
	return trimmed
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	const limit = 200
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
