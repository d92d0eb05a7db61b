package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/config"
	"github.com/young1lin/assistsearch/internal/metrics"
	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/pkg/logger"
)

const defaultGoogleBaseURL = "https://www.googleapis.com/customsearch/v1"

// GoogleProvider implements the Provider interface using the Custom Search JSON API
type GoogleProvider struct {
	apiKey   string
	engineID string
	baseURL  string
	params   url.Values
	client   *http.Client
}

// NewGoogleProvider creates a new Google Custom Search provider
func NewGoogleProvider(cfg config.SearchConfig) *GoogleProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGoogleBaseURL
	}

	params := url.Values{}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}

	client := &http.Client{}
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &GoogleProvider{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		baseURL:  cfg.BaseURL,
		params:   params,
		client:   client,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// IsAvailable returns true if the provider is properly configured
func (p *GoogleProvider) IsAvailable() bool {
	return p.apiKey != "" && p.engineID != ""
}

// googleSearchResponse keeps only what we extract; provider error bodies decode to no items
type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// buildURL assembles the request URL. Later sources override earlier ones:
// q/key/cx, then configured params, then call-site extras.
func (p *GoogleProvider) buildURL(query string, extra url.Values) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid search base url: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("key", p.apiKey)
	params.Set("cx", p.engineID)
	for k, v := range p.params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Search performs a search query. A response without items yields an empty slice.
func (p *GoogleProvider) Search(ctx context.Context, query string, extra url.Values) ([]models.SearchResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	searchURL, err := p.buildURL(query, extra)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug("google search response",
		zap.Int("status", resp.StatusCode),
		zap.Int("body_bytes", len(body)),
	)

	var searchResp googleSearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]models.SearchResult, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		results = append(results, models.SearchResult{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}

	log.Info("google search completed",
		zap.String("query", query),
		zap.Int("status", resp.StatusCode),
		zap.Int("result_count", len(results)),
	)

	return results, nil
}
