// Package orchestrator runs conversation turns: it streams a model
// response, dispatches the tool calls the model makes, and reports every
// step as an ordered event on a channel.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/infra/tracer"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultModelTimeout  = 30 * time.Second
	DefaultMaxToolRounds = 5
	DefaultEventBuffer   = 64
)

// Catalog resolves tool names.
type Catalog interface {
	Get(name string) (domain.ToolDefinition, error)
	List() []domain.ToolDefinition
}

// Executor runs one tool call. Implementations report failures in the
// result rather than as errors.
type Executor interface {
	Execute(ctx context.Context, tool domain.ToolDefinition, params domain.Params) domain.ExecutionResult
}

// Config bounds a turn.
type Config struct {
	Model         string
	ModelTimeout  time.Duration
	MaxToolRounds int
	SystemPrompt  string
	EventBuffer   int
}

// ConfigFrom maps the application config.
func ConfigFrom(o config.OrchestratorConfig, model string) Config {
	return Config{
		Model:         model,
		ModelTimeout:  o.ModelTimeout,
		MaxToolRounds: o.MaxToolRounds,
		SystemPrompt:  o.SystemPrompt,
		EventBuffer:   o.EventBuffer,
	}
}

// Turn is the input of one conversation turn.
type Turn struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history,omitempty"`
}

// Orchestrator starts turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	provider domain.StreamingProvider
	catalog  Catalog
	executor Executor
	cfg      Config
	metrics  *metrics.Provider
	logger   *slog.Logger

	onTransition func(turnID string, from, to State)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records events and turns on m.
func WithMetrics(m *metrics.Provider) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(turnID string, from, to State)) Option {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// New creates an Orchestrator.
func New(provider domain.StreamingProvider, catalog Catalog, executor Executor, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = config.DefaultSystemPrompt
	}
	o := &Orchestrator{
		provider: provider,
		catalog:  catalog,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start validates the turn and begins streaming it. Errors returned here
// mean no stream was opened. Otherwise the returned channel carries start,
// then content and tool events, and ends with end or error before it is
// closed. When ctx is cancelled the channel is closed without a terminal
// event.
func (o *Orchestrator) Start(ctx context.Context, turn Turn) (<-chan domain.StreamEvent, error) {
	const op = "Orchestrator.Start"

	if strings.TrimSpace(turn.Message) == "" {
		return nil, domain.NewDomainError(op, domain.ErrEmptyMessage, "")
	}
	if o.provider == nil || o.catalog == nil || o.executor == nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "orchestrator is not fully configured")
	}

	tools := o.catalog.List()
	messages := make([]domain.Message, 0, len(turn.History)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: o.systemContext(tools)})
	for _, m := range turn.History {
		if m.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: turn.Message})

	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}

	r := &run{
		o:        o,
		turnID:   ulid.Make().String(),
		events:   make(chan domain.StreamEvent, o.cfg.EventBuffer),
		messages: messages,
		tools:    schemas,
		state:    StateIdle,
	}
	r.logger = o.logger.With("turn_id", r.turnID)

	go r.loop(ctx)
	return r.events, nil
}

// systemContext describes the assistant role and the tool catalog.
func (o *Orchestrator) systemContext(tools []domain.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(o.cfg.SystemPrompt)
	if len(tools) == 0 {
		sb.WriteString("\n\nNo tools are available.")
		return sb.String()
	}
	sb.WriteString("\n\nAvailable tools:")
	for _, t := range tools {
		fmt.Fprintf(&sb, "\n- %s: %s", t.Name, t.Description)
	}
	return sb.String()
}

// run is the state of one turn. It is owned by a single goroutine.
type run struct {
	o        *Orchestrator
	turnID   string
	seq      int
	state    State
	events   chan domain.StreamEvent
	messages []domain.Message
	tools    []domain.ToolSchema
	reply    strings.Builder
	logger   *slog.Logger

	toolCalls int
}

func (r *run) transition(to State) {
	from := r.state
	if !canTransition(from, to) {
		r.logger.Debug("illegal state transition", "from", from.String(), "to", to.String())
		return
	}
	r.state = to
	if r.o.onTransition != nil {
		r.o.onTransition(r.turnID, from, to)
	}
}

// emit delivers one event. It reports false when the client has gone away.
func (r *run) emit(ctx context.Context, typ domain.EventType, payload any) bool {
	ev := domain.StreamEvent{Type: typ, TurnID: r.turnID, Seq: r.seq, Payload: payload}
	select {
	case r.events <- ev:
		r.seq++
		r.o.metrics.IncrementStreamEvent(string(typ))
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *run) loop(ctx context.Context) {
	defer close(r.events)

	ctx, span := tracer.StartSpan(ctx, "orchestrator.turn",
		trace.WithAttributes(
			tracer.StringAttr("turn.id", r.turnID),
			tracer.StringAttr("llm.provider", r.o.provider.Name()),
		),
	)
	defer span.End()

	if !r.emit(ctx, domain.EventStart, domain.StartPayload{TurnID: r.turnID, Timestamp: time.Now().UTC()}) {
		r.cancelled()
		return
	}

	for round := 0; ; round++ {
		if round >= r.o.cfg.MaxToolRounds {
			err := domain.NewDomainError("Orchestrator.Start", domain.ErrMaxToolRounds,
				fmt.Sprintf("%d rounds", r.o.cfg.MaxToolRounds))
			r.fail(ctx, span, err)
			return
		}

		out := r.streamRound(ctx)
		switch {
		case out.cancelled:
			r.cancelled()
			return
		case out.err != nil:
			if !r.abandon(ctx, out.calls, "tool call interrupted: "+out.err.Error()) {
				r.cancelled()
				return
			}
			r.fail(ctx, span, out.err)
			return
		case len(out.calls) == 0:
			r.finish(ctx, span, round+1)
			return
		case out.stopReason != domain.StopToolCalls:
			// Only a completed tool-call round is dispatched.
			r.logger.Warn("discarding incomplete tool calls", "calls", len(out.calls), "stop_reason", out.stopReason)
			if !r.abandon(ctx, out.calls, fmt.Sprintf("tool call not completed (stop reason %q)", out.stopReason)) {
				r.cancelled()
				return
			}
			r.finish(ctx, span, round+1)
			return
		}

		if !r.dispatch(ctx, out) {
			r.cancelled()
			return
		}
	}
}

func (r *run) finish(ctx context.Context, span trace.Span, rounds int) {
	r.transition(StateDone)
	r.emit(ctx, domain.EventEnd, domain.EndPayload{Content: r.reply.String(), Timestamp: time.Now().UTC()})
	span.SetAttributes(
		tracer.IntAttr("turn.rounds", rounds),
		tracer.IntAttr("turn.tool_calls", r.toolCalls),
	)
	tracer.SetOK(span)
	r.o.metrics.IncrementTurn("end")
	r.logger.Info("turn completed", "rounds", rounds, "tool_calls", r.toolCalls)
}

func (r *run) fail(ctx context.Context, span trace.Span, err error) {
	r.transition(StateFailed)
	code := domain.ErrorCodeOf(err)
	r.emit(ctx, domain.EventError, domain.ErrorPayload{Error: err.Error(), Code: code})
	tracer.RecordError(span, err)
	r.o.metrics.IncrementTurn("error")
	r.logger.Warn("turn failed", "code", code, "error", err)
}

func (r *run) cancelled() {
	r.transition(StateFailed)
	r.o.metrics.IncrementTurn("cancelled")
	r.logger.Debug("turn cancelled by client")
}
