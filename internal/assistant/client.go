// Package assistant is a thin client for the hosted Assistants API:
// threads, messages, runs and tool output submission.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/config"
	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/pkg/logger"
)

const listOrderNewestFirst = "desc"

// API is the subset of the Assistants API the run driver needs
type API interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (*models.Message, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (*models.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*models.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []models.ToolOutput) (*models.Run, error)
	ListMessages(ctx context.Context, threadID string) (*models.MessageList, error)
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("assistant api error: status %d, %s (%s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("assistant api error: status %d, %s", e.StatusCode, e.Message)
}

// Client talks to the Assistants API through the go-openai SDK
type Client struct {
	api *openai.Client
}

// NewClient creates a new Assistants API client
func NewClient(cfg config.AssistantConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		oc.BaseURL = baseURL
	}

	httpClient := &http.Client{Transport: &traceTransport{next: http.DefaultTransport}}
	if cfg.Timeout > 0 {
		httpClient.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	oc.HTTPClient = httpClient

	return &Client{api: openai.NewClientWithConfig(oc)}
}

func (c *Client) CreateThread(ctx context.Context) (*models.Thread, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", wrapError(err))
	}
	return &models.Thread{ID: thread.ID, Object: thread.Object, CreatedAt: thread.CreatedAt}, nil
}

func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (*models.Message, error) {
	msg, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{Role: role, Content: content})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", wrapError(err))
	}
	out := toMessage(msg)
	return &out, nil
}

func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*models.Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", wrapError(err))
	}
	return toRun(run), nil
}

func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (*models.Run, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, fmt.Errorf("retrieve run: %w", wrapError(err))
	}
	logger.FromContext(ctx).Debug("assistant run retrieved",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
	)
	return toRun(run), nil
}

func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []models.ToolOutput) (*models.Run, error) {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}

	run, err := c.api.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		return nil, fmt.Errorf("submit tool outputs: %w", wrapError(err))
	}
	return toRun(run), nil
}

// ListMessages returns the thread's messages, newest first
func (c *Client) ListMessages(ctx context.Context, threadID string) (*models.MessageList, error) {
	order := listOrderNewestFirst
	list, err := c.api.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", wrapError(err))
	}

	out := &models.MessageList{
		Object:  list.Object,
		Data:    make([]models.Message, 0, len(list.Messages)),
		HasMore: list.HasMore,
	}
	if list.FirstID != nil {
		out.FirstID = *list.FirstID
	}
	if list.LastID != nil {
		out.LastID = *list.LastID
	}
	for _, m := range list.Messages {
		out.Data = append(out.Data, toMessage(m))
	}
	return out, nil
}

// wrapError turns SDK failures into *APIError so callers can map them to a status
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := &APIError{StatusCode: apiErr.HTTPStatusCode, Type: apiErr.Type, Message: apiErr.Message}
		if apiErr.Code != nil {
			out.Code = fmt.Sprint(apiErr.Code)
		}
		return out
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

func toRun(r openai.Run) *models.Run {
	run := &models.Run{
		ID:          r.ID,
		Object:      r.Object,
		CreatedAt:   r.CreatedAt,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      string(r.Status),
	}

	if r.LastError != nil {
		run.LastError = &models.RunError{Code: string(r.LastError.Code), Message: r.LastError.Message}
	}

	if r.RequiredAction != nil {
		action := &models.RequiredAction{Type: string(r.RequiredAction.Type)}
		if r.RequiredAction.SubmitToolOutputs != nil {
			for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
				action.SubmitToolOutputs.ToolCalls = append(action.SubmitToolOutputs.ToolCalls, models.ToolCall{
					ID:   tc.ID,
					Type: string(tc.Type),
					Function: models.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
		run.RequiredAction = action
	}

	return run
}

func toMessage(m openai.Message) models.Message {
	msg := models.Message{
		ID:        m.ID,
		Object:    m.Object,
		CreatedAt: int64(m.CreatedAt),
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Content:   make([]models.MessageContent, 0, len(m.Content)),
	}
	if m.AssistantID != nil {
		msg.AssistantID = *m.AssistantID
	}
	if m.RunID != nil {
		msg.RunID = *m.RunID
	}

	for _, c := range m.Content {
		part := models.MessageContent{Type: c.Type}
		if c.Text != nil {
			part.Text = &models.MessageText{Value: c.Text.Value, Annotations: c.Text.Annotations}
		}
		msg.Content = append(msg.Content, part)
	}
	return msg
}

// traceTransport forwards the request's trace ID upstream
type traceTransport struct {
	next http.RoundTripper
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	traceID := logger.TraceIDFromContext(req.Context())
	if traceID == "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("X-Trace-ID", traceID)
	return t.next.RoundTrip(req)
}
