// Package runner drives one assistant run from prompt submission to final answer,
// servicing tool calls the run requests along the way.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/assistant"
	"github.com/young1lin/assistsearch/internal/config"
	"github.com/young1lin/assistsearch/internal/metrics"
	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/pkg/logger"
)

const DefaultPollInterval = 500 * time.Millisecond

// Dispatcher executes one tool call and returns its output
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.ToolCall) (string, error)
}

// Config is fixed at construction and never changed afterwards
type Config struct {
	AssistantID  string
	PollInterval time.Duration
	RunTimeout   time.Duration // 0 disables the deadline
	MaxPolls     int           // 0 disables the poll cap
}

// ConfigFrom builds a driver config from the assistant section of the app config
func ConfigFrom(cfg config.AssistantConfig) Config {
	return Config{
		AssistantID:  cfg.AssistantID,
		PollInterval: cfg.PollIntervalDuration(),
		RunTimeout:   cfg.RunTimeoutDuration(),
		MaxPolls:     cfg.MaxPolls,
	}
}

// Result is the outcome of a completed run
type Result struct {
	ThreadID string
	RunID    string
	Answer   string
	Status   State
}

type Driver struct {
	api   assistant.API
	tools Dispatcher
	cfg   Config
	log   *zap.Logger
}

func New(api assistant.API, tools Dispatcher, cfg Config) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Driver{api: api, tools: tools, cfg: cfg, log: logger.Named("runner")}
}

// Respond posts prompt to the thread (creating one when threadID is empty),
// runs the assistant and returns its answer. Cancelling ctx stops polling.
func (d *Driver) Respond(ctx context.Context, prompt, threadID string) (*Result, error) {
	log := d.log.With(zap.String("trace_id", logger.TraceIDFromContext(ctx)))

	runCtx := ctx
	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	if threadID == "" {
		thread, err := d.api.CreateThread(runCtx)
		if err != nil {
			return nil, d.deadlineErr(ctx, runCtx, err)
		}
		threadID = thread.ID
		log.Info("thread created", zap.String("thread_id", threadID))
	}

	if _, err := d.api.CreateMessage(runCtx, threadID, "user", prompt); err != nil {
		return nil, d.deadlineErr(ctx, runCtx, err)
	}

	run, err := d.api.CreateRun(runCtx, threadID, d.cfg.AssistantID)
	if err != nil {
		return nil, d.deadlineErr(ctx, runCtx, err)
	}

	log = log.With(zap.String("thread_id", threadID), zap.String("run_id", run.ID))
	log.Info("run started", zap.String("assistant_id", d.cfg.AssistantID))

	start := time.Now()
	state, err := d.poll(runCtx, log, threadID, run.ID)
	if err != nil {
		err = d.deadlineErr(ctx, runCtx, err)
		if errors.Is(err, ErrRunTimedOut) {
			state = StateTimedOut
		}
	}
	if state.Terminal() {
		metrics.RunsTotal.WithLabelValues(state.String()).Inc()
		metrics.RunDuration.WithLabelValues(state.String()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("run did not complete", zap.String("state", state.String()), zap.Error(err))
		return nil, err
	}

	list, err := d.api.ListMessages(runCtx, threadID)
	if err != nil {
		return nil, d.deadlineErr(ctx, runCtx, err)
	}

	answer, err := extractAnswer(list, run.ID)
	if err != nil {
		return nil, err
	}

	log.Info("run completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("answer_len", len(answer)),
	)

	return &Result{ThreadID: threadID, RunID: run.ID, Answer: answer, Status: state}, nil
}

// poll drives the run until it reaches a terminal state. The returned state is
// the last one observed.
func (d *Driver) poll(ctx context.Context, log *zap.Logger, threadID, runID string) (State, error) {
	polls := 0
	for {
		if d.cfg.MaxPolls > 0 && polls >= d.cfg.MaxPolls {
			return StateTimedOut, fmt.Errorf("%w: gave up after %d status checks", ErrRunTimedOut, polls)
		}

		run, err := d.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return StatePending, err
		}
		polls++
		metrics.RunPollsTotal.Inc()

		state := Classify(run.Status)
		log.Debug("run status", zap.String("status", run.Status), zap.Int("poll", polls))

		switch state {
		case StateCompleted:
			return state, nil

		case StateFailed:
			return state, &RunError{RunID: runID, Status: run.Status, LastError: run.LastError}

		case StateRequiresAction:
			if run.RequiredAction != nil && len(run.RequiredAction.SubmitToolOutputs.ToolCalls) > 0 {
				if err := d.handleRequiredAction(ctx, log, threadID, runID, run.RequiredAction); err != nil {
					return state, err
				}
				// The run moves back to queued once outputs are accepted; check again right away.
				continue
			}
		}

		if err := sleep(ctx, d.cfg.PollInterval); err != nil {
			return state, err
		}
	}
}

// handleRequiredAction runs every requested tool call and submits all outputs in
// one call. If any call fails nothing is submitted.
func (d *Driver) handleRequiredAction(ctx context.Context, log *zap.Logger, threadID, runID string, action *models.RequiredAction) error {
	calls := action.SubmitToolOutputs.ToolCalls
	outputs := make([]models.ToolOutput, 0, len(calls))

	for _, call := range calls {
		log.Info("tool call requested",
			zap.String("call_id", call.ID),
			zap.String("function", call.Function.Name),
			zap.String("arguments", call.Function.Arguments),
		)

		output, err := d.tools.Dispatch(ctx, call)
		if err != nil {
			return fmt.Errorf("tool call %s: %w", call.ID, err)
		}
		outputs = append(outputs, models.ToolOutput{ToolCallID: call.ID, Output: output})
	}

	if _, err := d.api.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
		return err
	}

	log.Info("tool outputs submitted", zap.Int("count", len(outputs)))
	return nil
}

// deadlineErr reports ErrRunTimedOut when the run deadline expired while the
// caller's own context is still live.
func (d *Driver) deadlineErr(parent, runCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrRunTimedOut, d.cfg.RunTimeout, err)
	}
	return err
}

// extractAnswer picks the newest assistant message, preferring one produced by runID.
// Messages are expected newest first.
func extractAnswer(list *models.MessageList, runID string) (string, error) {
	var fallback *models.Message
	for i := range list.Data {
		msg := &list.Data[i]
		if msg.Role != "assistant" {
			continue
		}
		if msg.RunID == runID {
			return msg.TextValue(), nil
		}
		if fallback == nil {
			fallback = msg
		}
	}
	if fallback != nil {
		return fallback.TextValue(), nil
	}
	return "", ErrNoAnswer
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
