package win

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultCategory is stored when an append does not name a category.
const DefaultCategory = "general"

// TimeLayout is the on-disk timestamp format: ISO-8601, UTC, millisecond
// precision. Every value has the same width, so string comparison orders
// timestamps chronologically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Record is a durable win. Once written it is never updated or deleted.
type Record struct {
	ID        int64  `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Category  string `json:"category" yaml:"category"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NormalizeTitle trims surrounding whitespace and converts the title to
// Unicode NFC so visually identical titles are stored identically.
// Returns "" for empty or whitespace-only input.
func NormalizeTitle(title string) string {
	return norm.NFC.String(strings.TrimSpace(title))
}

// NormalizeCategory trims the category and falls back to DefaultCategory.
func NormalizeCategory(category string) string {
	c := norm.NFC.String(strings.TrimSpace(category))
	if c == "" {
		return DefaultCategory
	}
	return c
}
