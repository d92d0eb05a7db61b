package models

// PromptRequest represents the body of POST /get-response
type PromptRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

// PromptResponse represents a successful answer
type PromptResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ErrorResponse represents an error returned to the HTTP caller
type ErrorResponse struct {
	Error string `json:"error"`
}

// SearchResult represents a single search result item
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}
