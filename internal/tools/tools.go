// Package tools defines the tool registry the agent calls through.
//
// A tool is a name, a description, a JSON Schema for its arguments, and a
// handler. The registry validates arguments against the schema, bounds
// each execution with a timeout, and turns every outcome (including
// panics) into a [Result] the agent can hand back to the model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/web3scout/scout/internal/llm"
)

// DefaultTimeout bounds a single tool execution when the registry is
// built with a zero timeout.
const DefaultTimeout = 20 * time.Second

// Handler executes a tool. The returned value is serialised to JSON for
// the model. Returning a *Failure selects the failure kind.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Result is the outcome of one tool execution. Exactly one of Data and
// Failure is meaningful, selected by OK.
type Result struct {
	OK      bool     `json:"ok"`
	Data    any      `json:"data,omitempty"`
	Failure *Failure `json:"error,omitempty"`
}

// Success wraps data as a successful Result.
func Success(data any) Result { return Result{OK: true, Data: data} }

// Failed wraps f as a failed Result.
func Failed(f *Failure) Result { return Result{Failure: f} }

// Observation renders the result as the JSON text the model sees. URLs
// are left unescaped so they can be matched against the final answer.
func (r Result) Observation() string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		buf.Reset()
		enc.Encode(Failed(Malformed("unencodable tool output: %v", err)))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Error returns the failure as an error, or nil on success.
func (r Result) Error() error {
	if r.OK || r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Registry holds available tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry whose executions are bounded by
// timeout.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a tool, compiling its parameter schema. A tool with the
// same name is replaced.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool must have a name and a handler")
	}
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
		t.Parameters = params
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	r.schemas[t.Name] = schema
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every tool as a model-facing definition, sorted by
// name so the prompt is stable across calls.
func (r *Registry) Definitions() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name. It never returns an error: unknown tools,
// invalid arguments, handler errors, timeouts, and panics all become a
// failed Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	r.mu.RLock()
	tool, schema := r.tools[name], r.schemas[name]
	r.mu.RUnlock()

	log := r.logger.With("tool", name, "thread_id", ThreadIDFromContext(ctx))

	if tool == nil {
		log.Warn("unknown tool requested")
		return Failed(AsFailure(&ErrToolUnavailable{ToolName: name}))
	}
	if args == nil {
		args = map[string]any{}
	}
	if raw, ok := args["_raw"].(string); ok && len(args) == 1 {
		return Failed(Malformed("arguments are not a JSON object: %s", raw))
	}
	if f := validate(schema, args); f != nil {
		log.Debug("tool arguments rejected", "error", f.Message)
		return Failed(f)
	}

	start := time.Now()
	data, err := r.run(ctx, tool, args)
	elapsed := time.Since(start)

	if err != nil {
		f := AsFailure(err)
		log.Warn("tool failed", "kind", f.Kind, "error", f.Message, "elapsed", elapsed)
		return Failed(f)
	}
	log.Debug("tool succeeded", "elapsed", elapsed)
	return Success(data)
}

type runOutcome struct {
	data any
	err  error
}

func (r *Registry) run(ctx context.Context, tool *Tool, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked", "tool", tool.Name, "panic", p)
				done <- runOutcome{err: Unavailable("tool %s crashed: %v", tool.Name, p)}
			}
		}()
		data, err := tool.Handler(ctx, args)
		done <- runOutcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, Unavailable("%s timed out after %s", tool.Name, r.timeout)
		}
		return out.data, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, Unavailable("%s cancelled", tool.Name)
		}
		return nil, Unavailable("%s timed out after %s", tool.Name, r.timeout)
	}
}

func validate(schema *gojsonschema.Schema, args map[string]any) *Failure {
	if schema == nil {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return Malformed("arguments could not be validated: %v", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return Malformed("invalid arguments: %s", strings.Join(msgs, "; "))
}
