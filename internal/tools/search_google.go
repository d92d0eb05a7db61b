package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/search"
	"github.com/young1lin/assistsearch/pkg/logger"
)

const SearchGoogleName = "search_google"

type searchGoogleArgs struct {
	Query string `json:"query"`
}

// SearchGoogle answers search_google calls with formatted web results
type SearchGoogle struct {
	provider search.Provider
}

func NewSearchGoogle(provider search.Provider) *SearchGoogle {
	return &SearchGoogle{provider: provider}
}

func (s *SearchGoogle) Name() string {
	return SearchGoogleName
}

func (s *SearchGoogle) Description() string {
	return "Search the web with Google and return the top results with title, link and description."
}

func (s *SearchGoogle) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []interface{}{"query"},
	}
}

func (s *SearchGoogle) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed searchGoogleArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	results, err := s.provider.Search(ctx, parsed.Query, nil)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	logger.FromContext(ctx).Debug("search_google results",
		zap.String("query", parsed.Query),
		zap.Int("result_count", len(results)),
	)

	return search.FormatResults(results), nil
}
