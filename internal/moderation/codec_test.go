package moderation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisResultRoundTrip(t *testing.T) {
	original := AnalysisResult{
		ContentID: "c-1",
		Analysis:  `{"category":"SPAM","confidence":90}`,
		Score:     90,
		Status:    StatusRemoved,
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC),
	}
	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := DecodeAnalysisResult(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeContentItem(t *testing.T) {
	item, err := DecodeContentItem([]byte(`{"contentId":"a","type":"post","title":"t","text":"hello","metadata":{"k":"v"},"userId":"u","timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "a", item.ContentID)
	assert.Equal(t, "v", item.Metadata["k"])
	assert.Equal(t, "u", item.UserID)

	_, err = DecodeContentItem([]byte(`{not json`))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeContentItem([]byte(`{"text":"no id"}`))
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"hate speech": CategoryHateSpeech,
		"Hate-Speech": CategoryHateSpeech,
		" spam ":      CategorySpam,
		"SAFE":        CategorySafe,
	}
	for raw, want := range cases {
		got, ok := ParseCategory(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseCategory("violence")
	assert.False(t, ok)
}

func TestCloneMetadata(t *testing.T) {
	assert.Nil(t, CloneMetadata(nil))
	in := map[string]string{"a": "1"}
	out := CloneMetadata(in)
	out["a"] = "2"
	assert.Equal(t, "1", in["a"])
}
