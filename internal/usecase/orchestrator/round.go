package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/tracer"
)

// roundOutcome is what one provider round produced.
type roundOutcome struct {
	content    string
	calls      []*domain.PartialToolCall
	stopReason string
	err        error
	cancelled  bool
}

// streamRound runs one provider call under the model timeout.
func (r *run) streamRound(ctx context.Context) roundOutcome {
	roundCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ModelTimeout)
	defer cancel()

	r.transition(StateStreaming)

	stream, err := r.o.provider.ChatStream(roundCtx, domain.ChatRequest{
		Model:    r.o.cfg.Model,
		Messages: r.messages,
		Tools:    r.tools,
	})
	if err != nil {
		return r.interrupted(ctx, roundCtx, err)
	}

	var (
		content    strings.Builder
		acc        callAccumulator
		stopReason string
	)
	// fail keeps the calls opened so far so the caller can close them.
	fail := func(err error) roundOutcome {
		out := r.interrupted(ctx, roundCtx, err)
		out.calls = acc.calls
		return out
	}
	done := func() roundOutcome {
		return roundOutcome{content: content.String(), calls: acc.calls, stopReason: stopReason}
	}
	for {
		select {
		case <-roundCtx.Done():
			return fail(roundCtx.Err())
		case d, ok := <-stream:
			if !ok {
				if roundCtx.Err() != nil {
					return fail(roundCtx.Err())
				}
				return done()
			}
			if d.Err != nil {
				return fail(d.Err)
			}
			if d.Content != "" {
				content.WriteString(d.Content)
				r.reply.WriteString(d.Content)
				if !r.emit(ctx, domain.EventContent, domain.ContentPayload{Content: d.Content}) {
					return roundOutcome{cancelled: true}
				}
			}
			for _, tc := range d.ToolCalls {
				call, opened := acc.add(tc)
				if !opened {
					continue
				}
				r.transition(StateAccumulatingToolCall)
				if !r.emit(ctx, domain.EventToolCallStart, domain.ToolCallPayload{ID: call.ID, Name: call.Name}) {
					return roundOutcome{cancelled: true}
				}
			}
			if d.StopReason != "" {
				stopReason = d.StopReason
			}
			if d.Done {
				return done()
			}
		}
	}
}

// interrupted classifies a round that ended before the stream closed.
func (r *run) interrupted(ctx, roundCtx context.Context, err error) roundOutcome {
	if ctx.Err() != nil {
		return roundOutcome{cancelled: true}
	}
	if errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
		return roundOutcome{err: domain.NewDomainError("Orchestrator.Start", domain.ErrTimeout,
			fmt.Sprintf("model did not finish within %s", r.o.cfg.ModelTimeout))}
	}
	if domain.ErrorCodeOf(err) == domain.CodeUnknown {
		err = fmt.Errorf("%w: %w", domain.ErrProviderError, err)
	}
	return roundOutcome{err: err}
}

// abandon closes calls that were announced with tool_call_start but will
// never run, so every opened call ends with a tool_* event. It reports
// false when the client went away.
func (r *run) abandon(ctx context.Context, calls []*domain.PartialToolCall, reason string) bool {
	for _, call := range calls {
		if !r.emit(ctx, domain.EventToolError, domain.ToolErrorPayload{ID: call.ID, Name: call.Name, Error: reason}) {
			return false
		}
	}
	return true
}

// dispatch runs the accumulated calls in the order they were opened and
// appends the exchange to the conversation. It reports false when the
// client went away.
func (r *run) dispatch(ctx context.Context, out roundOutcome) bool {
	r.transition(StateDispatchingTool)

	assistant := domain.Message{Role: domain.RoleAssistant, Content: out.content}
	results := make([]domain.Message, 0, len(out.calls))

	for _, call := range out.calls {
		r.toolCalls++
		record := call.ToolCall()

		params, err := call.Parse()
		if err != nil {
			record.Arguments = json.RawMessage(`{}`)
			assistant.ToolCalls = append(assistant.ToolCalls, record)
			results = append(results, toolMessage(call, toolFeedback{Error: err.Error()}))
			if !r.emit(ctx, domain.EventToolError, domain.ToolErrorPayload{ID: call.ID, Name: call.Name, Error: err.Error()}) {
				return false
			}
			continue
		}
		assistant.ToolCalls = append(assistant.ToolCalls, record)

		tool, err := r.o.catalog.Get(call.Name)
		if err != nil {
			msg := fmt.Sprintf("tool %q not found", call.Name)
			results = append(results, toolMessage(call, toolFeedback{Error: msg}))
			if !r.emit(ctx, domain.EventToolError, domain.ToolErrorPayload{ID: call.ID, Name: call.Name, Error: msg}) {
				return false
			}
			continue
		}

		if !r.emit(ctx, domain.EventToolExecuting, domain.ToolCallPayload{ID: call.ID, Name: call.Name}) {
			return false
		}

		res := r.execute(ctx, call, tool, params)
		if ctx.Err() != nil {
			r.logger.Debug("dropping tool result after disconnect", "tool", call.Name, "call_id", call.ID)
			return false
		}

		results = append(results, toolMessage(call, feedbackFrom(res)))
		if !r.emit(ctx, domain.EventToolResult, domain.ToolResultPayload{
			ID:      call.ID,
			Name:    call.Name,
			Success: res.Success,
			Data:    res.Data,
			Status:  res.Status,
			TimeMs:  res.ExecutionTimeMs,
			Error:   res.Error,
		}) {
			return false
		}
	}

	r.messages = append(r.messages, assistant)
	r.messages = append(r.messages, results...)
	return true
}

// execute runs one call. The call is detached from client cancellation so
// a started request always completes; the engine bounds it.
func (r *run) execute(ctx context.Context, call *domain.PartialToolCall, tool domain.ToolDefinition, params domain.Params) domain.ExecutionResult {
	execCtx, span := tracer.StartSpan(context.WithoutCancel(ctx), "orchestrator.dispatch")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", tool.Name),
		tracer.StringAttr("tool.call_id", call.ID),
	)

	res := r.o.executor.Execute(execCtx, tool, params)
	span.SetAttributes(tracer.BoolAttr("tool.success", res.Success))
	if res.Success {
		tracer.SetOK(span)
	}
	r.logger.Info("tool dispatched",
		"tool", tool.Name,
		"call_id", call.ID,
		"outcome", res.Outcome(),
		"elapsed_ms", res.ExecutionTimeMs,
	)
	return res
}

// toolFeedback is what the model sees as a tool result.
type toolFeedback struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func feedbackFrom(res domain.ExecutionResult) toolFeedback {
	return toolFeedback{Success: res.Success, Status: res.Status, Data: res.Data, Error: res.Error}
}

func toolMessage(call *domain.PartialToolCall, fb toolFeedback) domain.Message {
	raw, err := json.Marshal(fb)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	return domain.Message{
		Role:       domain.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    string(raw),
	}
}

// callAccumulator groups tool-call fragments by provider index.
type callAccumulator struct {
	calls   []*domain.PartialToolCall
	byIndex map[int]*domain.PartialToolCall
}

// add merges one fragment and reports whether it opened a new call.
// Anonymous fragments for an unknown index extend the latest call.
func (a *callAccumulator) add(tc domain.ToolCallDelta) (*domain.PartialToolCall, bool) {
	if a.byIndex == nil {
		a.byIndex = make(map[int]*domain.PartialToolCall)
	}

	if call, ok := a.byIndex[tc.Index]; ok {
		if call.Name == "" && tc.Name != "" {
			call.Name = tc.Name
		}
		call.Append(tc.Arguments)
		return call, false
	}

	if tc.ID == "" && tc.Name == "" && len(a.calls) > 0 {
		last := a.calls[len(a.calls)-1]
		last.Append(tc.Arguments)
		return last, false
	}

	call := &domain.PartialToolCall{Index: tc.Index, ID: tc.ID, Name: tc.Name}
	if call.ID == "" {
		call.ID = "call_" + strings.ToLower(ulid.Make().String())
	}
	call.Append(tc.Arguments)
	a.calls = append(a.calls, call)
	a.byIndex[tc.Index] = call
	return call, true
}
