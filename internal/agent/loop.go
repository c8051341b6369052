// Package agent implements the reasoning loop: a state machine that calls
// the model, runs at most one tool per iteration, folds the observation
// back into context, and persists the turn once it is complete.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/web3scout/scout/internal/events"
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/memory"
	"github.com/web3scout/scout/internal/policy"
	"github.com/web3scout/scout/internal/prompts"
	"github.com/web3scout/scout/internal/tools"
)

// DefaultMaxIterations bounds model calls per run.
const DefaultMaxIterations = 8

// DefaultThreadID is used when a request names no thread.
const DefaultThreadID = "default"

// timeToolName is the tool that grounds relative dates.
const timeToolName = "current_time"

// ErrEmptyMessage is returned for a request with no user text.
var ErrEmptyMessage = errors.New("message is empty")

// Request is one user utterance.
type Request struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
	// Model overrides the configured model for this run.
	Model string `json:"model,omitempty"`
}

// ToolCallRecord summarises one tool execution within a run.
type ToolCallRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	OK        bool           `json:"ok"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

// Response is the outcome of a run.
type Response struct {
	Content        string           `json:"content"`
	Model          string           `json:"model"`
	ThreadID       string           `json:"thread_id"`
	RequestID      string           `json:"request_id"`
	Iterations     int              `json:"iterations"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	InputTokens    int              `json:"input_tokens"`
	OutputTokens   int              `json:"output_tokens"`
	BudgetExceeded bool             `json:"budget_exceeded,omitempty"`
	// UnsourcedLinks are links in Content that no tool returned during
	// this turn.
	UnsourcedLinks []string `json:"unsourced_links,omitempty"`
	// States is the sequence of states the run passed through.
	States []State `json:"-"`
}

// Config holds the loop's tunables.
type Config struct {
	Model         string
	MaxIterations int
	// RunTimeout bounds a whole run, 0 for none.
	RunTimeout time.Duration
	Policy     policy.Policy
}

// Loop runs requests against a model with a fixed tool registry.
type Loop struct {
	cfg    Config
	llm    llm.Client
	tools  *tools.Registry
	store  memory.Store
	locks  *memory.ThreadLocks
	bus    *events.Bus
	stats  *SessionStats
	logger *slog.Logger
	now    func() time.Time
}

// NewLoop creates a Loop. bus may be nil.
func NewLoop(cfg Config, client llm.Client, registry *tools.Registry, store memory.Store, locks *memory.ThreadLocks, bus *events.Bus, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if locks == nil {
		locks = memory.NewThreadLocks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:    cfg,
		llm:    client,
		tools:  registry,
		store:  store,
		locks:  locks,
		bus:    bus,
		stats:  newSessionStats(time.Now()),
		logger: logger.With("component", "agent"),
		now:    time.Now,
	}
}

// Stats returns session-wide usage totals.
func (l *Loop) Stats() StatsSnapshot { return l.stats.Snapshot() }

// Model returns the default model name.
func (l *Loop) Model() string { return l.cfg.Model }

// History returns the persisted messages of a thread.
func (l *Loop) History(ctx context.Context, threadID string) ([]memory.Message, error) {
	return l.store.Load(ctx, threadID)
}

// run is the mutable state of one Run call.
type run struct {
	req       *Request
	requestID string
	turnID    string
	model     string
	smallTalk bool
	relative  bool
	defs      []llm.ToolDef
	allowed   map[string]bool
	stream    llm.StreamCallback
	log       *slog.Logger

	state        State
	msgs         []llm.Message
	persist      []memory.Message
	observations []string
	pending      llm.ToolCall
	result       tools.Result
	timeGrounded bool
	nudged       bool
	deferred     string
	content      string
	streamed     bool
	resp         *Response
}

func (r *run) transition(to State) {
	if !canTransition(r.state, to) {
		r.log.Error("invalid state transition", "from", r.state, "to", to)
	}
	r.state = to
	r.resp.States = append(r.resp.States, to)
}

// Run executes one request. stream, when non-nil, receives tool events
// as they happen and the tokens of the final answer, ending with
// KindDone. Text a model sends alongside a tool call is never streamed
// unless it becomes the answer, so the streamed tokens always equal
// Response.Content. Tool failures never fail a run; a model that stays
// unreachable after retries yields llm.ErrModelUnavailable.
func (l *Loop) Run(ctx context.Context, req *Request, stream llm.StreamCallback) (*Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = DefaultThreadID
	}
	model := req.Model
	if model == "" {
		model = l.cfg.Model
	}

	if l.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.RunTimeout)
		defer cancel()
	}

	start := l.now()
	r := &run{
		req:       req,
		requestID: generateRequestID(),
		turnID:    newTurnID(),
		model:     model,
		smallTalk: policy.IsSmallTalk(message),
		relative:  policy.MentionsRelativeTime(message),
		stream:    stream,
		state:     StateThinking,
		resp: &Response{
			Model:     model,
			ThreadID:  threadID,
			ToolCalls: []ToolCallRecord{},
			States:    []State{StateThinking},
		},
	}
	r.resp.RequestID = r.requestID
	r.log = l.logger.With("request_id", r.requestID, "thread_id", threadID)
	ctx = tools.WithTurnID(tools.WithThreadID(ctx, threadID), r.turnID)

	l.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": r.requestID,
		"thread_id":  threadID,
		"small_talk": r.smallTalk,
	})

	resp, err := l.execute(ctx, r, threadID, message)
	if err != nil {
		l.stats.recordFailure(l.now())
		l.bus.Emit(events.SourceAgent, events.KindRequestFailed, map[string]any{
			"request_id": r.requestID,
			"thread_id":  threadID,
			"error":      err.Error(),
		})
		r.log.Warn("run failed", "error", err, "elapsed", l.now().Sub(start))
		return nil, err
	}

	l.stats.record(resp, l.now())
	elapsed := l.now().Sub(start)
	l.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id":      r.requestID,
		"thread_id":       threadID,
		"iterations":      resp.Iterations,
		"tokens_in":       resp.InputTokens,
		"tokens_out":      resp.OutputTokens,
		"budget_exceeded": resp.BudgetExceeded,
		"unsourced_links": len(resp.UnsourcedLinks),
		"elapsed_ms":      elapsed.Milliseconds(),
	})
	r.log.Info("run complete",
		"iterations", resp.Iterations,
		"tool_calls", len(resp.ToolCalls),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"budget_exceeded", resp.BudgetExceeded,
		"elapsed", elapsed,
	)
	return resp, nil
}

func (l *Loop) execute(ctx context.Context, r *run, threadID, message string) (*Response, error) {
	release, err := l.locks.Acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := l.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var toolNames []string
	if !r.smallTalk {
		r.defs = l.tools.Definitions()
		r.allowed = make(map[string]bool, len(r.defs))
		for _, d := range r.defs {
			r.allowed[d.Name] = true
			toolNames = append(toolNames, d.Name)
		}
	}
	system, err := prompts.SystemPrompt(l.cfg.Policy, toolNames)
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	r.msgs = make([]llm.Message, 0, len(history)+8)
	r.msgs = append(r.msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	r.msgs = append(r.msgs, historyToLLM(history)...)
	r.msgs = append(r.msgs, llm.Message{Role: llm.RoleUser, Content: message})
	r.persist = []memory.Message{{Role: memory.RoleUser, Content: message}}

	r.log.Debug("run started",
		"model", r.model,
		"history", len(history),
		"tools", len(r.defs),
		"small_talk", r.smallTalk,
	)

	for r.state != StateDone {
		var err error
		switch r.state {
		case StateThinking:
			err = l.think(ctx, r)
		case StateToolInvoking:
			l.invoke(ctx, r)
		case StateObserving:
			l.observe(r)
		case StateResponding:
			l.respond(r)
		}
		if err != nil {
			return nil, err
		}
	}

	// Nothing is written for a run whose caller has gone away.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.store.Append(ctx, threadID, r.turnID, r.persist); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	l.bus.Emit(events.SourceMemory, events.KindTurnPersisted, map[string]any{
		"thread_id": threadID,
		"turn_id":   r.turnID,
		"messages":  len(r.persist),
	})

	if r.stream != nil {
		if !r.streamed && r.content != "" {
			r.stream(llm.StreamEvent{Kind: llm.KindToken, Token: r.content})
		}
		r.stream(llm.StreamEvent{Kind: llm.KindDone, Response: &llm.ChatResponse{
			Model:        r.model,
			CreatedAt:    l.now(),
			Message:      llm.Message{Role: llm.RoleAssistant, Content: r.content},
			InputTokens:  r.resp.InputTokens,
			OutputTokens: r.resp.OutputTokens,
			FinishReason: "stop",
		}})
	}
	return r.resp, nil
}

// think makes one model call and decides the next state.
func (l *Loop) think(ctx context.Context, r *run) error {
	if r.resp.Iterations >= l.cfg.MaxIterations {
		return l.exhausted(ctx, r)
	}
	r.resp.Iterations++

	resp, streamed, err := l.call(ctx, r, r.msgs, r.defs)
	if err != nil {
		return err
	}

	content := strings.TrimSpace(resp.Message.Content)
	calls := resp.Message.ToolCalls
	if r.smallTalk && len(calls) > 0 {
		r.log.Warn("model requested tools on the small-talk path, ignoring", "count", len(calls))
		calls = nil
	}

	switch {
	case len(calls) > 0:
		if len(calls) > 1 {
			dropped := make([]string, 0, len(calls)-1)
			for _, c := range calls[1:] {
				dropped = append(dropped, c.Name)
			}
			r.log.Info("model requested several tools, running only the first",
				"tool", calls[0].Name, "dropped", dropped)
		}
		if content != "" {
			r.deferred = content
		}
		r.pending = calls[0]
		r.transition(StateToolInvoking)

	case content != "":
		r.content = content
		r.streamed = streamed
		r.transition(StateResponding)

	case r.deferred != "":
		r.log.Debug("empty response, using text sent alongside an earlier tool call")
		r.content = r.deferred
		r.transition(StateResponding)

	case !r.nudged:
		r.log.Info("empty response, nudging model", "iteration", r.resp.Iterations)
		r.nudged = true
		r.msgs = append(r.msgs, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
		r.transition(StateThinking)

	default:
		r.log.Warn("empty response after nudge, using fallback")
		r.content = prompts.EmptyResponseFallback
		r.transition(StateResponding)
	}
	return nil
}

// exhausted handles a spent iteration budget: one last tool-less call,
// then a deterministic fallback.
func (l *Loop) exhausted(ctx context.Context, r *run) error {
	r.resp.BudgetExceeded = true
	r.log.Warn("iteration budget exhausted", "max_iterations", l.cfg.MaxIterations)

	msgs := append(r.msgs[:len(r.msgs):len(r.msgs)], llm.Message{Role: llm.RoleUser, Content: prompts.BudgetExhausted})
	resp, streamed, err := l.call(ctx, r, msgs, nil)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		r.log.Warn("final answer call failed, using fallback", "error", err)
	case strings.TrimSpace(resp.Message.Content) != "":
		r.content = strings.TrimSpace(resp.Message.Content)
		r.streamed = streamed
	}
	if r.content == "" {
		r.content = prompts.BudgetFallback(policy.SourceList(r.observations...))
	}
	r.transition(StateResponding)
	return nil
}

// call sends one request to the model, streaming when the run streams.
func (l *Loop) call(ctx context.Context, r *run, msgs []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, bool, error) {
	l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"request_id": r.requestID,
		"iter":       r.resp.Iterations,
		"model":      r.model,
		"tools":      len(defs),
	})

	var (
		resp     *llm.ChatResponse
		err      error
		streamed bool
		held     []llm.StreamEvent
	)
	if r.stream != nil {
		// With tools on offer the reply may turn out to be a tool call,
		// whose text is not part of the answer, so tokens are held until
		// the reply is known.
		hold := len(defs) > 0
		resp, err = l.llm.ChatStream(ctx, r.model, msgs, defs, func(ev llm.StreamEvent) {
			if ev.Kind != llm.KindToken || ev.Token == "" {
				return
			}
			if hold {
				held = append(held, ev)
				return
			}
			streamed = true
			r.stream(ev)
		})
	} else {
		resp, err = l.llm.Chat(ctx, r.model, msgs, defs)
	}
	if err != nil {
		r.log.Error("model call failed", "iteration", r.resp.Iterations, "error", err)
		return nil, false, err
	}
	if len(held) > 0 && len(resp.Message.ToolCalls) == 0 {
		for _, ev := range held {
			r.stream(ev)
		}
		streamed = true
	}

	r.resp.InputTokens += resp.InputTokens
	r.resp.OutputTokens += resp.OutputTokens
	l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"request_id": r.requestID,
		"iter":       r.resp.Iterations,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	return resp, streamed, nil
}

// invoke executes the pending tool call. A search issued for a
// relative-date question before the clock was read is replaced by a
// current_time call, and the model plans again with the date in hand.
func (l *Loop) invoke(ctx context.Context, r *run) {
	call := r.pending
	if call.ID == "" {
		call.ID = newCallID()
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	if r.relative && !r.timeGrounded && call.Name != timeToolName && r.allowed[timeToolName] && r.allowed[call.Name] {
		r.log.Info("grounding relative date before tool call", "deferred_tool", call.Name)
		call = llm.ToolCall{ID: call.ID, Name: timeToolName, Arguments: map[string]any{}}
	}
	if call.Name == timeToolName {
		r.timeGrounded = true
	}
	r.pending = call

	if r.stream != nil {
		r.stream(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &call})
	}
	l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": r.requestID,
		"tool":       call.Name,
	})

	start := l.now()
	if !r.allowed[call.Name] {
		r.result = tools.Failed(tools.AsFailure(&tools.ErrToolUnavailable{ToolName: call.Name}))
	} else {
		r.result = l.tools.Execute(ctx, call.Name, call.Arguments)
	}

	rec := ToolCallRecord{Name: call.Name, Arguments: call.Arguments, OK: r.result.OK}
	if r.result.Failure != nil {
		rec.ErrorKind = string(r.result.Failure.Kind)
	}
	r.resp.ToolCalls = append(r.resp.ToolCalls, rec)
	l.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  r.requestID,
		"tool":        call.Name,
		"ok":          rec.OK,
		"error_kind":  rec.ErrorKind,
		"duration_ms": l.now().Sub(start).Milliseconds(),
	})
	r.transition(StateObserving)
}

// observe folds the tool result into context and the turn's messages.
func (l *Loop) observe(r *run) {
	call := r.pending
	obs := r.result.Observation()

	r.msgs = append(r.msgs,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.Message{Role: llm.RoleTool, Content: obs, ToolCallID: call.ID, ToolName: call.Name},
	)
	r.persist = append(r.persist, toolCallMessage(call), toolResultMessage(call.ID, obs))
	r.observations = append(r.observations, obs)

	if r.stream != nil {
		ev := llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: call.Name, ToolResult: obs}
		if r.result.Failure != nil {
			ev.ToolError = r.result.Failure.Message
		}
		r.stream(ev)
	}
	r.transition(StateThinking)
}

// respond finalises the answer and checks its links.
func (l *Loop) respond(r *run) {
	r.resp.Content = r.content
	r.resp.UnsourcedLinks = l.cfg.Policy.Verification.UnsourcedLinks(r.content, policy.ObservedURLs(r.observations...))
	if n := len(r.resp.UnsourcedLinks); n > 0 {
		r.log.Warn("answer cites links no tool returned", "count", n, "links", r.resp.UnsourcedLinks)
	}
	r.persist = append(r.persist, memory.Message{Role: memory.RoleAssistant, Content: r.content})
	r.transition(StateDone)
}
