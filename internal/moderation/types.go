package moderation

import (
	"strings"
	"time"
)

// Category is a classification label from the moderation taxonomy.
type Category string

const (
	CategoryHateSpeech Category = "HATE_SPEECH"
	CategoryHarassment Category = "HARASSMENT"
	CategoryExplicit   Category = "EXPLICIT"
	CategorySpam       Category = "SPAM"
	CategorySafe       Category = "SAFE"
)

var knownCategories = map[Category]struct{}{
	CategoryHateSpeech: {},
	CategoryHarassment: {},
	CategoryExplicit:   {},
	CategorySpam:       {},
	CategorySafe:       {},
}

// ParseCategory normalizes a label ("hate speech", "Hate-Speech") and reports
// whether it belongs to the taxonomy.
func ParseCategory(raw string) (Category, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	c := Category(normalized)
	_, ok := knownCategories[c]
	return c, ok
}

// Status is the operational outcome of a moderation decision.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusPending  Status = "PENDING"
	StatusRemoved  Status = "REMOVED"
)

// Action is what a rule does once its sensitivity threshold is crossed.
type Action string

const (
	ActionAutoRemove    Action = "auto_remove"
	ActionFlagForReview Action = "flag_for_review"
)

// Valid reports whether the action is one of the supported values.
func (a Action) Valid() bool {
	return a == ActionAutoRemove || a == ActionFlagForReview
}

// ContentItem is a piece of ingested content awaiting moderation.
type ContentItem struct {
	ContentID string            `json:"contentId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Classification is the verdict of a classification strategy.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	// Raw is the document produced by the strategy, kept verbatim for audit.
	Raw string `json:"-"`
	// Source names the strategy that produced the verdict.
	Source string `json:"-"`
}

// Rule maps a category to a sensitivity threshold and an automatic action.
type Rule struct {
	Category    Category `json:"category" toml:"category"`
	Active      bool     `json:"active" toml:"active"`
	Sensitivity float64  `json:"sensitivity" toml:"sensitivity"`
	AutoAction  Action   `json:"autoAction" toml:"auto_action"`
}

// AnalysisResult is the published moderation record for one content item.
type AnalysisResult struct {
	ContentID string    `json:"contentId"`
	Analysis  string    `json:"analysis"`
	Score     float64   `json:"score"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
