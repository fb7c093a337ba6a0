package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a payload that cannot be decoded into a record.
var ErrMalformed = errors.New("moderation: malformed payload")

// DecodeContentItem parses a queue payload into a ContentItem.
func DecodeContentItem(data []byte) (ContentItem, error) {
	var item ContentItem
	if err := json.Unmarshal(data, &item); err != nil {
		return ContentItem{}, fmt.Errorf("%w: content item: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(item.ContentID) == "" {
		return ContentItem{}, fmt.Errorf("%w: content item: contentId missing", ErrMalformed)
	}
	return item, nil
}

// DecodeAnalysisResult parses a queue payload into an AnalysisResult.
func DecodeAnalysisResult(data []byte) (AnalysisResult, error) {
	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: analysis result: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(result.ContentID) == "" {
		return AnalysisResult{}, fmt.Errorf("%w: analysis result: contentId missing", ErrMalformed)
	}
	return result, nil
}

// Encode serializes a record for the wire.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("moderation: encode: %w", err)
	}
	return data, nil
}

// CloneMetadata copies a metadata map so records never share mutable state.
func CloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
