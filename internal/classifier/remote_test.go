package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

func newAPIServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req chatRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			assert.Equal(t, "test-model", req.Model)
			if assert.Len(t, req.Messages, 2) {
				assert.Equal(t, "system", req.Messages[0].Role)
				assert.Equal(t, SystemPrompt, req.Messages[0].Content)
				assert.Equal(t, "user", req.Messages[1].Role)
				assert.Contains(t, req.Messages[1].Content, "Title: t")
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRemote(url string) *Remote {
	return NewRemote(RemoteConfig{APIKey: "secret", Endpoint: url, Model: "test-model"})
}

var testItem = moderation.ContentItem{ContentID: "c1", Title: "t", Text: "some text"}

func TestRemoteDirectVerdict(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, `{"category":"harassment","confidence":82.5,"reasons":["threatening tone"],"flagged":true}`)
	got, err := newTestRemote(srv.URL).Classify(context.Background(), testItem)
	require.NoError(t, err)
	assert.Equal(t, moderation.CategoryHarassment, got.Category)
	assert.Equal(t, 82.5, got.Confidence)
	assert.Equal(t, []string{"threatening tone"}, got.Reasons)
	assert.Equal(t, SourceRemote, got.Source)
	assert.NotEmpty(t, got.Raw)
}

func TestRemoteChatEnvelope(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, `{"choices":[{"message":{"content":"`+"```json\\n{\\\"category\\\":\\\"SAFE\\\",\\\"confidence\\\":3,\\\"flagged\\\":false}\\n```"+`"}}]}`)
	got, err := newTestRemote(srv.URL).Classify(context.Background(), testItem)
	require.NoError(t, err)
	assert.Equal(t, moderation.CategorySafe, got.Category)
	assert.Equal(t, float64(3), got.Confidence)
	assert.Empty(t, got.Reasons)
}

func TestRemoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"non success status", http.StatusTooManyRequests, `{"error":"slow down"}`, func(t *testing.T, err error) {
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		}},
		{"not json", http.StatusOK, `I cannot help with that`, func(t *testing.T, err error) {
			var malformed *MalformedError
			assert.True(t, errors.As(err, &malformed))
		}},
		{"missing flagged", http.StatusOK, `{"category":"SPAM","confidence":50}`, func(t *testing.T, err error) {
			var malformed *MalformedError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, "flagged missing", malformed.Reason)
		}},
		{"unknown category", http.StatusOK, `{"category":"VIOLENCE","confidence":50,"flagged":true}`, func(t *testing.T, err error) {
			var malformed *MalformedError
			assert.True(t, errors.As(err, &malformed))
		}},
		{"confidence out of range", http.StatusOK, `{"category":"SPAM","confidence":150,"flagged":true}`, func(t *testing.T, err error) {
			var malformed *MalformedError
			assert.True(t, errors.As(err, &malformed))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAPIServer(t, tt.status, tt.body)
			_, err := newTestRemote(srv.URL).Classify(context.Background(), testItem)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRemoteRequiresAPIKey(t *testing.T) {
	_, err := NewRemote(RemoteConfig{}).Classify(context.Background(), testItem)
	assert.ErrorIs(t, err, errMissingAPIKey)
}

func TestServiceFallsBackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := NewService(newTestRemote(url), time.Second, zaptest.NewLogger(t))
	got := svc.Classify(context.Background(), moderation.ContentItem{ContentID: "a", Text: "buy now, click here for free money"})
	assert.Equal(t, moderation.CategorySpam, got.Category)
	assert.Equal(t, float64(90), got.Confidence)
	assert.Equal(t, SourceHeuristic, got.Source)
}

func TestServiceFallsBackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	svc := NewService(newTestRemote(srv.URL), 50*time.Millisecond, zaptest.NewLogger(t))
	start := time.Now()
	got := svc.Classify(context.Background(), moderation.ContentItem{ContentID: "b", Text: "Great product, highly recommend"})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, moderation.CategorySafe, got.Category)
	assert.Equal(t, float64(0), got.Confidence)
}

func TestServiceUsesPrimaryResult(t *testing.T) {
	srv := newAPIServer(t, http.StatusOK, `{"category":"EXPLICIT","confidence":99,"reasons":[],"flagged":true}`)
	svc := NewService(newTestRemote(srv.URL), time.Second, zaptest.NewLogger(t))
	got := svc.Classify(context.Background(), testItem)
	assert.Equal(t, moderation.CategoryExplicit, got.Category)
	assert.Equal(t, SourceRemote, got.Source)
}

func TestServiceWithoutPrimary(t *testing.T) {
	svc := NewService(nil, 0, nil)
	got := svc.Classify(context.Background(), moderation.ContentItem{Text: "stalking"})
	assert.Equal(t, moderation.CategoryHarassment, got.Category)
}
