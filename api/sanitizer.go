package api

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// messagePolicy is the singleton bluemonday policy for chat message content.
// Chat messages are plain text: every tag is stripped before persistence so
// stored transcripts are safe to render anywhere.
// bluemonday policies are safe for concurrent use after creation.
var messagePolicy = bluemonday.StrictPolicy()

// SanitizeMessageContent strips markup from user-authored message content
// and trims surrounding whitespace. An empty result means the message
// carried nothing worth persisting.
func SanitizeMessageContent(content string) string {
	return strings.TrimSpace(messagePolicy.Sanitize(content))
}
