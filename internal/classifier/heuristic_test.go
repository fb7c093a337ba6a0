package classifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

func TestHeuristicCategories(t *testing.T) {
	h := NewHeuristic()
	tests := []struct {
		text       string
		category   moderation.Category
		confidence float64
	}{
		{"buy now, click here for free money", moderation.CategorySpam, 90},
		{"Great product, highly recommend", moderation.CategorySafe, 0},
		{"I will BULLY you", moderation.CategoryHarassment, 70},
		{"nude pictures", moderation.CategoryExplicit, 85},
		{"a racist remark", moderation.CategoryHateSpeech, 75},
	}
	for _, tt := range tests {
		got := h.Evaluate(moderation.ContentItem{ContentID: "x", Text: tt.text})
		assert.Equal(t, tt.category, got.Category, tt.text)
		assert.Equal(t, tt.confidence, got.Confidence, tt.text)
		assert.Equal(t, SourceHeuristic, got.Source)
	}
}

func TestHeuristicPriorityHateOverSpam(t *testing.T) {
	h := NewHeuristic()
	got := h.Evaluate(moderation.ContentItem{Text: "I hate this, buy now at a discount"})
	assert.Equal(t, moderation.CategoryHateSpeech, got.Category)
	assert.Equal(t, []string{"Contains keywords associated with hate speech"}, got.Reasons)
}

func TestHeuristicMatchesTitle(t *testing.T) {
	h := NewHeuristic()
	got := h.Evaluate(moderation.ContentItem{Title: "LIMITED TIME offer", Text: "details inside"})
	assert.Equal(t, moderation.CategorySpam, got.Category)
}

func TestHeuristicMatchesNewsHeadline(t *testing.T) {
	h := NewHeuristic()
	got := h.Evaluate(moderation.ContentItem{
		Type:     "news",
		Text:     "Officials met on Tuesday to discuss the budget.",
		Metadata: map[string]string{"title": "Racist bigot attacks spark outrage"},
	})
	assert.Equal(t, moderation.CategoryHateSpeech, got.Category)
	assert.Equal(t, float64(75), got.Confidence)
}

func TestHeuristicSafeHasEmptyReasons(t *testing.T) {
	got, err := NewHeuristic().Classify(context.Background(), moderation.ContentItem{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, moderation.CategorySafe, got.Category)
	assert.Empty(t, got.Reasons)
	assert.NotNil(t, got.Reasons)
}

func TestHeuristicRawPayload(t *testing.T) {
	got := NewHeuristic().Evaluate(moderation.ContentItem{Text: "free money"})
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.Raw), &raw))
	assert.Equal(t, "SPAM", raw["category"])
	assert.Equal(t, float64(90), raw["confidence"])
	assert.Equal(t, true, raw["flagged"])
}

func TestUserPrompt(t *testing.T) {
	assert.Equal(t, "Title: hi\nContent: body", UserPrompt(moderation.ContentItem{Title: "hi", Text: "body"}))
	assert.Equal(t, "Title: No title\nContent: No content", UserPrompt(moderation.ContentItem{}))
	news := moderation.ContentItem{Type: "news", Title: "ignored", Text: "b", Metadata: map[string]string{"title": "Headline"}}
	assert.Equal(t, "Title: Headline\nContent: b", UserPrompt(news))
}
