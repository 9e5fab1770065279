package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()
	md     = goldmark.New()
)

// Sanitize removes all HTML from the input string. It is used for
// plain-text fields like message text, display names and group names.
func Sanitize(input string) string {
	return strict.Sanitize(input)
}

// RenderHTML renders markdown message text to HTML and sanitizes the
// result with a UGC policy, so pushed and fetched messages carry a
// safe renderable body alongside the raw text.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return ugc.Sanitize(buf.String()), nil
}

// ValidateName checks a user-supplied name (group name, display
// name): non-empty after trimming and within a sane length.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(trimmed) > 128 {
		return fmt.Errorf("name is too long (max 128 characters)")
	}
	return nil
}
