package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

const heuristicFlagThreshold = 75

type keywordSet struct {
	category   moderation.Category
	confidence float64
	reason     string
	keywords   []string
}

// Heuristic is the local keyword classifier. Sets are checked in priority
// order and the first set with a matching keyword decides the category.
type Heuristic struct {
	sets []keywordSet
}

// NewHeuristic returns the keyword classifier with the built-in sets.
func NewHeuristic() Heuristic {
	return Heuristic{sets: []keywordSet{
		{
			category:   moderation.CategoryHateSpeech,
			confidence: 75,
			reason:     "Contains keywords associated with hate speech",
			keywords:   []string{"hate", "racist", "discrimination", "bigot"},
		},
		{
			category:   moderation.CategoryHarassment,
			confidence: 70,
			reason:     "Contains keywords associated with harassment",
			keywords:   []string{"harass", "bully", "threat", "stalking"},
		},
		{
			category:   moderation.CategoryExplicit,
			confidence: 85,
			reason:     "Contains keywords associated with explicit content",
			keywords:   []string{"porn", "sex", "nude", "explicit"},
		},
		{
			category:   moderation.CategorySpam,
			confidence: 90,
			reason:     "Contains keywords associated with spam",
			keywords:   []string{"buy now", "click here", "free money", "discount", "limited time"},
		},
	}}
}

type heuristicPayload struct {
	Category   moderation.Category `json:"category"`
	Confidence float64             `json:"confidence"`
	Reasons    []string            `json:"reasons"`
	Flagged    bool                `json:"flagged"`
}

// Classify never fails; text without any keyword is SAFE with zero confidence.
func (h Heuristic) Classify(_ context.Context, item moderation.ContentItem) (moderation.Classification, error) {
	return h.Evaluate(item), nil
}

// Evaluate runs the keyword sets against the lower-cased headline and text.
func (h Heuristic) Evaluate(item moderation.ContentItem) moderation.Classification {
	lower := strings.ToLower(titleOf(item) + "\n" + item.Text)
	result := moderation.Classification{
		Category: moderation.CategorySafe,
		Reasons:  []string{},
		Source:   SourceHeuristic,
	}
	for _, set := range h.sets {
		if containsAny(lower, set.keywords) {
			result.Category = set.category
			result.Confidence = set.confidence
			result.Reasons = []string{set.reason}
			break
		}
	}
	raw, _ := json.Marshal(heuristicPayload{
		Category:   result.Category,
		Confidence: result.Confidence,
		Reasons:    result.Reasons,
		Flagged:    result.Confidence >= heuristicFlagThreshold,
	})
	result.Raw = string(raw)
	return result
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
