package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/young1lin/assistsearch/internal/models"
)

// Provider defines the interface for search providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Search performs a search query and returns results.
	// Parameters in extra are merged last and override the defaults.
	Search(ctx context.Context, query string, extra url.Values) ([]models.SearchResult, error)

	// IsAvailable returns true if the provider is properly configured
	IsAvailable() bool
}

// FormatResults formats search results as a tool output string.
// Each result becomes a Title/Link/Description block; blocks are newline separated.
func FormatResults(results []models.SearchResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nLink: %s\nDescription: %s\n", r.Title, r.Link, r.Snippet))
	}
	return strings.Join(blocks, "\n")
}
