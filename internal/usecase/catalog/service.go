package catalog

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/infra/tracer"
)

// Executor runs a tool against the target API.
type Executor interface {
	Execute(ctx context.Context, tool domain.ToolDefinition, params domain.Params) domain.ExecutionResult
	HealthCheck(ctx context.Context) domain.ExecutionResult
}

// Validator checks a parameter bag against a tool's input schema.
type Validator interface {
	ValidateDetail(tool domain.ToolDefinition, params domain.Params) error
}

// Source produces a fresh catalog, typically by loading and compiling the
// configured OpenAPI document.
type Source func(ctx context.Context) ([]domain.ToolDefinition, error)

// ToolInfo is the listing entry returned by ListTools.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	InputSchema *domain.Schema `json:"inputSchema"`
}

// Service exposes list and execute over the catalog. Tool calls from the
// orchestrator go through ExecuteTool as well.
type Service struct {
	registry  *Registry
	validator Validator
	executor  Executor
	source    Source
	auditor   domain.AuditLogger
	metrics   *metrics.Provider
	logger    *slog.Logger
}

// ServiceDeps holds the dependencies of a Service.
type ServiceDeps struct {
	Registry  *Registry
	Validator Validator
	Executor  Executor
	Source    Source             // optional; Reload fails without it
	Audit     domain.AuditLogger // optional
	Metrics   *metrics.Provider
	Logger    *slog.Logger
}

// NewService creates a Service.
func NewService(deps ServiceDeps) *Service {
	if deps.Registry == nil {
		deps.Registry = NewRegistry(nil)
	}
	s := &Service{
		registry:  deps.Registry,
		validator: deps.Validator,
		executor:  deps.Executor,
		source:    deps.Source,
		auditor:   deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "catalog"),
	}
	s.metrics.SetCompiledTools(s.registry.Len())
	return s
}

// Registry returns the underlying registry.
func (s *Service) Registry() *Registry { return s.registry }

// ListTools returns every tool with its binding and input schema.
func (s *Service) ListTools() []ToolInfo {
	tools := s.registry.List()
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Method:      t.Binding.Method,
			Path:        t.Binding.Path,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

// Lookup returns the named tool.
func (s *Service) Lookup(name string) (domain.ToolDefinition, error) {
	return s.registry.Get(name)
}

// ExecuteTool validates params and runs the named tool. The only error is
// an unknown name; everything else is reported in the result.
func (s *Service) ExecuteTool(ctx context.Context, name string, params domain.Params) (domain.ExecutionResult, error) {
	tool, err := s.registry.Get(name)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return s.Execute(ctx, tool, params), nil
}

// Execute validates params against tool and runs it.
func (s *Service) Execute(ctx context.Context, tool domain.ToolDefinition, params domain.Params) domain.ExecutionResult {
	if params == nil {
		params = domain.Params{}
	}
	start := time.Now()
	if s.validator != nil {
		if err := s.validator.ValidateDetail(tool, params); err != nil {
			s.logger.Debug("tool call rejected", "tool", tool.Name, "error", err)
			res := domain.Failure(domain.ExecValidation, err.Error(), time.Since(start).Milliseconds())
			s.metrics.ObserveToolExecution(tool.Name, res.Outcome(), time.Since(start))
			s.audit(ctx, tool, params, res)
			return res
		}
	}
	res := s.executor.Execute(ctx, tool, params)
	s.audit(ctx, tool, params, res)
	return res
}

// audit records the execution. Parameter values are left out.
func (s *Service) audit(ctx context.Context, tool domain.ToolDefinition, params domain.Params, res domain.ExecutionResult) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Log(ctx, domain.AuditEvent{
		Tool:      tool.Name,
		Method:    tool.Binding.Method,
		Path:      tool.Binding.Path,
		Params:    slices.Sorted(maps.Keys(params)),
		Outcome:   res.Outcome(),
		Kind:      res.ErrorKind,
		Status:    res.Status,
		ElapsedMs: res.ExecutionTimeMs,
		Error:     res.Error,
	})
	if err != nil {
		s.logger.Warn("audit write failed", "tool", tool.Name, "error", err)
	}
}

// HealthCheck checks that the target API answers.
func (s *Service) HealthCheck(ctx context.Context) domain.ExecutionResult {
	return s.executor.HealthCheck(ctx)
}

// Reload recompiles the catalog from its source and swaps it in. The old
// catalog stays in place when compilation fails.
func (s *Service) Reload(ctx context.Context) (int, error) {
	ctx, span := tracer.StartSpan(ctx, "catalog.reload")
	defer span.End()

	if s.source == nil {
		err := domain.NewDomainError("Service.Reload", domain.ErrCompile, "no catalog source configured")
		tracer.RecordError(span, err)
		return 0, err
	}
	defs, err := s.source(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return 0, domain.WrapOp("Service.Reload", err)
	}
	s.registry.Replace(defs)
	n := s.registry.Len()
	s.metrics.SetCompiledTools(n)
	span.SetAttributes(tracer.IntAttr("catalog.tools", n))
	tracer.SetOK(span)
	s.logger.Info("catalog reloaded", "tools", n)
	return n, nil
}
