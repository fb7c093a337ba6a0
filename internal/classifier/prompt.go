package classifier

import (
	"strings"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

// SystemPrompt instructs the remote model what to look for and how to answer.
const SystemPrompt = "You are a content moderation AI. Analyze the following content and determine if it violates any content policies. " +
	"Specifically look for: hate speech, harassment, explicit content, or spam. " +
	"Respond with a JSON object with the following fields: category, confidence, reasons, flagged. " +
	"category must be one of HATE_SPEECH, HARASSMENT, EXPLICIT, SPAM, SAFE and confidence is a number from 0 to 100."

// titleOf resolves the headline of an item. News items carry it in metadata,
// so it takes precedence over the title field.
func titleOf(item moderation.ContentItem) string {
	if strings.EqualFold(item.Type, "news") {
		if t, ok := item.Metadata["title"]; ok && strings.TrimSpace(t) != "" {
			return t
		}
	}
	return item.Title
}

// UserPrompt renders the moderated payload.
func UserPrompt(item moderation.ContentItem) string {
	title := titleOf(item)
	if strings.TrimSpace(title) == "" {
		title = "No title"
	}
	text := item.Text
	if strings.TrimSpace(text) == "" {
		text = "No content"
	}
	return "Title: " + title + "\nContent: " + text
}
