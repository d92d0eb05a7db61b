package runner

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/internal/tools"
	"github.com/young1lin/assistsearch/pkg/logger"
)

type postedMessage struct {
	Role    string
	Content string
}

// fakeAPI replays a scripted sequence of runs for RetrieveRun; the last entry repeats.
type fakeAPI struct {
	mu        sync.Mutex
	runs      []models.Run
	retrieved int
	messages  []models.Message
	created   []string
	posted    []postedMessage
	submitted [][]models.ToolOutput
	err       error
}

func (f *fakeAPI) CreateThread(context.Context) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, "thread_new")
	return &models.Thread{ID: "thread_new"}, nil
}

func (f *fakeAPI) CreateMessage(_ context.Context, threadID, role, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedMessage{Role: role, Content: content})
	return &models.Message{ID: "msg_user", ThreadID: threadID, Role: role}, nil
}

func (f *fakeAPI) CreateRun(_ context.Context, threadID, assistantID string) (*models.Run, error) {
	return &models.Run{ID: "run_1", ThreadID: threadID, AssistantID: assistantID, Status: models.RunStatusQueued}, nil
}

func (f *fakeAPI) RetrieveRun(ctx context.Context, _, _ string) (*models.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	i := f.retrieved
	if i >= len(f.runs) {
		i = len(f.runs) - 1
	}
	f.retrieved++
	run := f.runs[i]
	return &run, nil
}

func (f *fakeAPI) SubmitToolOutputs(_ context.Context, _, _ string, outputs []models.ToolOutput) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, outputs)
	return &models.Run{ID: "run_1", Status: models.RunStatusQueued}, nil
}

func (f *fakeAPI) ListMessages(context.Context, string) (*models.MessageList, error) {
	return &models.MessageList{Data: f.messages}, nil
}

type fakeProvider struct {
	queries []string
	results []models.SearchResult
}

func (p *fakeProvider) Name() string      { return "fake" }
func (p *fakeProvider) IsAvailable() bool { return true }
func (p *fakeProvider) Search(_ context.Context, query string, _ url.Values) ([]models.SearchResult, error) {
	p.queries = append(p.queries, query)
	return p.results, nil
}

func textMessage(role, runID, text string) models.Message {
	return models.Message{
		Role:    role,
		RunID:   runID,
		Content: []models.MessageContent{{Type: "text", Text: &models.MessageText{Value: text}}},
	}
}

func requiresAction(calls ...models.ToolCall) models.Run {
	return models.Run{
		ID:     "run_1",
		Status: models.RunStatusRequiresAction,
		RequiredAction: &models.RequiredAction{
			Type:              "submit_tool_outputs",
			SubmitToolOutputs: models.SubmitToolOutputs{ToolCalls: calls},
		},
	}
}

func toolCall(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Type: "function", Function: models.FunctionCall{Name: name, Arguments: args}}
}

func newDriver(t *testing.T, api *fakeAPI, p *fakeProvider, cfg Config) *Driver {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.NewSearchGoogle(p)))
	if cfg.AssistantID == "" {
		cfg.AssistantID = "asst_1"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return New(api, reg, cfg)
}

func TestRespond_CompletedWithoutTools(t *testing.T) {
	api := &fakeAPI{
		runs: []models.Run{
			{ID: "run_1", Status: models.RunStatusQueued},
			{ID: "run_1", Status: models.RunStatusInProgress},
			{ID: "run_1", Status: models.RunStatusCompleted},
		},
		messages: []models.Message{
			textMessage("assistant", "run_1", "The answer is 42."),
			textMessage("user", "", "What is the answer?"),
		},
	}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	res, err := d.Respond(context.Background(), "What is the answer?", "")
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", res.Answer)
	assert.Equal(t, "thread_new", res.ThreadID)
	assert.Equal(t, "run_1", res.RunID)
	assert.Equal(t, StateCompleted, res.Status)
	assert.Equal(t, []string{"thread_new"}, api.created)
	assert.Equal(t, []postedMessage{{Role: "user", Content: "What is the answer?"}}, api.posted)
	assert.Empty(t, api.submitted)
	assert.Equal(t, 3, api.retrieved)
}

func TestRespond_ExistingThread(t *testing.T) {
	api := &fakeAPI{
		runs:     []models.Run{{ID: "run_1", Status: models.RunStatusCompleted}},
		messages: []models.Message{textMessage("assistant", "run_1", "hi again")},
	}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	res, err := d.Respond(context.Background(), "hello", "thread_existing")
	require.NoError(t, err)
	assert.Equal(t, "thread_existing", res.ThreadID)
	assert.Empty(t, api.created)
}

func TestRespond_SearchGoogleToolCall(t *testing.T) {
	api := &fakeAPI{
		runs: []models.Run{
			requiresAction(toolCall("call_abc", "search_google", `{"query": "X"}`)),
			{ID: "run_1", Status: models.RunStatusCompleted},
		},
		messages: []models.Message{textMessage("assistant", "run_1", "Found it.")},
	}
	p := &fakeProvider{results: []models.SearchResult{
		{Title: "T1", Link: "https://one", Snippet: "S1"},
		{Title: "T2", Link: "https://two", Snippet: "S2"},
	}}
	d := newDriver(t, api, p, Config{})

	res, err := d.Respond(context.Background(), "search X", "")
	require.NoError(t, err)
	assert.Equal(t, "Found it.", res.Answer)

	assert.Equal(t, []string{"X"}, p.queries)
	require.Len(t, api.submitted, 1)
	require.Len(t, api.submitted[0], 1)

	out := api.submitted[0][0]
	assert.Equal(t, "call_abc", out.ToolCallID)
	assert.Contains(t, out.Output, "Title: T1\nLink: https://one\nDescription: S1")
	assert.Contains(t, out.Output, "Title: T2\nLink: https://two\nDescription: S2")
}

func TestRespond_MultipleToolCallsSubmittedTogether(t *testing.T) {
	api := &fakeAPI{
		runs: []models.Run{
			requiresAction(
				toolCall("call_1", "search_google", `{"query":"a"}`),
				toolCall("call_2", "search_google", `{"query":"b"}`),
			),
			{ID: "run_1", Status: models.RunStatusCompleted},
		},
		messages: []models.Message{textMessage("assistant", "run_1", "done")},
	}
	p := &fakeProvider{}
	d := newDriver(t, api, p, Config{})

	_, err := d.Respond(context.Background(), "two searches", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, p.queries)
	require.Len(t, api.submitted, 1)
	require.Len(t, api.submitted[0], 2)
	assert.Equal(t, "call_1", api.submitted[0][0].ToolCallID)
	assert.Equal(t, "call_2", api.submitted[0][1].ToolCallID)
}

func TestRespond_UnknownFunction(t *testing.T) {
	api := &fakeAPI{
		runs: []models.Run{
			requiresAction(
				toolCall("call_1", "search_google", `{"query":"a"}`),
				toolCall("call_2", "foo", `{}`),
			),
		},
	}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	_, err := d.Respond(context.Background(), "p", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrUnknownFunction))
	assert.Empty(t, api.submitted)
}

func TestRespond_FailedRunTerminates(t *testing.T) {
	api := &fakeAPI{
		runs: []models.Run{
			{ID: "run_1", Status: models.RunStatusInProgress},
			{ID: "run_1", Status: models.RunStatusFailed, LastError: &models.RunError{Code: "server_error", Message: "boom"}},
		},
	}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	_, err := d.Respond(context.Background(), "p", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunFailed))

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "failed", runErr.Status)
	assert.Equal(t, "server_error", runErr.LastError.Code)
	assert.Equal(t, 2, api.retrieved)
}

func TestRespond_TimesOut(t *testing.T) {
	api := &fakeAPI{runs: []models.Run{{ID: "run_1", Status: models.RunStatusInProgress}}}
	d := newDriver(t, api, &fakeProvider{}, Config{PollInterval: 5 * time.Millisecond, RunTimeout: 40 * time.Millisecond})

	_, err := d.Respond(context.Background(), "p", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunTimedOut), "got %v", err)
}

func TestRespond_MaxPolls(t *testing.T) {
	api := &fakeAPI{runs: []models.Run{{ID: "run_1", Status: models.RunStatusQueued}}}
	d := newDriver(t, api, &fakeProvider{}, Config{MaxPolls: 3})

	_, err := d.Respond(context.Background(), "p", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunTimedOut))
	assert.Equal(t, 3, api.retrieved)
}

func TestRespond_CallerCancellationStopsPolling(t *testing.T) {
	api := &fakeAPI{runs: []models.Run{{ID: "run_1", Status: models.RunStatusInProgress}}}
	d := newDriver(t, api, &fakeProvider{}, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := d.Respond(ctx, "p", "")
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
		assert.False(t, errors.Is(err, ErrRunTimedOut))
	case <-time.After(2 * time.Second):
		t.Fatal("driver kept polling after cancellation")
	}
}

func TestRespond_APIErrorPropagates(t *testing.T) {
	api := &fakeAPI{runs: []models.Run{{}}, err: errors.New("upstream down")}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	_, err := d.Respond(context.Background(), "p", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRespond_LogsUnderRunnerName(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	api := &fakeAPI{
		runs:     []models.Run{{ID: "run_1", Status: models.RunStatusCompleted}},
		messages: []models.Message{textMessage("assistant", "run_1", "ok")},
	}
	d := newDriver(t, api, &fakeProvider{}, Config{})

	_, err := d.Respond(logger.ContextWithTraceID(context.Background(), "trace-7"), "hi", "thread_1")
	require.NoError(t, err)

	entries := logs.FilterMessage("run completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "runner", entries[0].LoggerName)
	assert.Equal(t, "trace-7", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "run_1", entries[0].ContextMap()["run_id"])
}

func TestExtractAnswer(t *testing.T) {
	tests := []struct {
		name    string
		data    []models.Message
		want    string
		wantErr error
	}{
		{
			name: "newest message from run",
			data: []models.Message{
				textMessage("assistant", "run_1", "second"),
				textMessage("assistant", "run_1", "first"),
				textMessage("user", "", "q"),
			},
			want: "second",
		},
		{
			name: "prefers message from this run",
			data: []models.Message{
				textMessage("assistant", "run_other", "stale"),
				textMessage("assistant", "run_1", "fresh"),
			},
			want: "fresh",
		},
		{
			name: "falls back to newest assistant message",
			data: []models.Message{
				textMessage("user", "", "q"),
				textMessage("assistant", "run_old", "older answer"),
			},
			want: "older answer",
		},
		{
			name: "multiple text parts joined",
			data: []models.Message{{
				Role:  "assistant",
				RunID: "run_1",
				Content: []models.MessageContent{
					{Type: "text", Text: &models.MessageText{Value: "a"}},
					{Type: "image_file"},
					{Type: "text", Text: &models.MessageText{Value: "b"}},
				},
			}},
			want: "a\nb",
		},
		{
			name:    "no assistant message",
			data:    []models.Message{textMessage("user", "", "q")},
			wantErr: ErrNoAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractAnswer(&models.MessageList{Data: tt.data}, "run_1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]State{
		"queued":          StatePending,
		"in_progress":     StatePending,
		"cancelling":      StatePending,
		"something_new":   StatePending,
		"requires_action": StateRequiresAction,
		"completed":       StateCompleted,
		"failed":          StateFailed,
		"cancelled":       StateFailed,
		"expired":         StateFailed,
		"incomplete":      StateFailed,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), status)
	}

	assert.True(t, StateTimedOut.Terminal())
	assert.False(t, StateRequiresAction.Terminal())
	assert.Equal(t, "timed_out", StateTimedOut.String())
}
