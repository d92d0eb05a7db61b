// Package tools maps function names requested by an assistant run to local handlers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/metrics"
	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/pkg/logger"
)

var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// UnknownFunctionError is returned when a run requests a function nobody registered
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("Unknown function: %s", e.Name)
}

func (e *UnknownFunctionError) Is(target error) bool {
	return target == ErrUnknownFunction
}

// Tool is a function the assistant may call
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object
	Parameters() map[string]interface{}
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry holds the tools available to assistant runs. It is built once at
// startup and only read afterwards.
type Registry struct {
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool, compiling its parameter schema
func (r *Registry) Register(t Tool) error {
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tool already registered: %s", t.Name())
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name(), err)
	}

	r.tools[t.Name()] = entry{tool: t, schema: schema}
	return nil
}

// Info describes a registered tool
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Describe lists the registered tools sorted by name
func (r *Registry) Describe() []Info {
	infos := make([]Info, 0, len(r.tools))
	for name, e := range r.tools {
		infos = append(infos, Info{Name: name, Description: e.tool.Description()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Dispatch validates the call's arguments and runs the matching tool
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (string, error) {
	log := logger.FromContext(ctx)
	name := call.Function.Name

	e, ok := r.tools[name]
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues("unknown", "unknown_function").Inc()
		return "", &UnknownFunctionError{Name: name}
	}

	args := json.RawMessage(call.Function.Arguments)
	if strings.TrimSpace(call.Function.Arguments) == "" {
		args = json.RawMessage("{}")
	}

	if err := validate(e.schema, args); err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "invalid_arguments").Inc()
		return "", fmt.Errorf("%s: %w", name, err)
	}

	log.Info("dispatching tool call",
		zap.String("call_id", call.ID),
		zap.String("function", name),
	)

	output, err := e.tool.Call(ctx, args)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		return "", fmt.Errorf("%s: %w", name, err)
	}

	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	return output, nil
}

func validate(schema *gojsonschema.Schema, args json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
