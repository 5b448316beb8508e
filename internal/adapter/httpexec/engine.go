// Package httpexec executes compiled tools as HTTP requests against the
// target API and normalizes every outcome into a domain.ExecutionResult.
package httpexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/httpx"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/infra/tracer"
)

const (
	// DefaultTimeout bounds every request sent to the target API.
	DefaultTimeout = 30 * time.Second
	// DefaultHealthPath is requested by HealthCheck.
	DefaultHealthPath = "/health"

	maxResponseBytes = 10 << 20
)

// Config configures an Engine.
type Config struct {
	BaseURL        string
	DefaultHeaders map[string]string
	Token          string
	Timeout        time.Duration
	ClientID       string
	HealthPath     string
	CheckContracts bool
	Pool           config.PoolConfig
}

// ConfigFrom maps the target section of the application config.
func ConfigFrom(t config.TargetConfig) Config {
	return Config{
		BaseURL:        t.BaseURL,
		DefaultHeaders: t.DefaultHeaders,
		Token:          t.Token,
		Timeout:        t.Timeout,
		ClientID:       t.ClientID,
		HealthPath:     t.HealthPath,
		CheckContracts: t.CheckContracts,
		Pool:           t.Pool,
	}
}

// settings is the mutable part of the configuration. Values are never
// modified once stored; writers replace the whole pointer.
type settings struct {
	baseURL string
	headers map[string]string
	token   string
}

// Engine performs tool calls. It is safe for concurrent use, including
// concurrent calls to the Set* mutators.
type Engine struct {
	client     *http.Client
	timeout    time.Duration
	clientID   string
	healthPath string
	contracts  *contractChecker

	current atomic.Pointer[settings]
	mu      sync.Mutex

	metrics *metrics.Provider
	logger  *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithMetrics records executions on m.
func WithMetrics(m *metrics.Provider) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}

	e := &Engine{
		client:     httpx.NewClient(timeout, timeout, cfg.Pool),
		timeout:    timeout,
		clientID:   cfg.ClientID,
		healthPath: healthPath,
		logger:     logger.With("component", "httpexec"),
	}
	if cfg.CheckContracts {
		e.contracts = newContractChecker()
	}
	e.current.Store(&settings{
		baseURL: trimBase(cfg.BaseURL),
		headers: maps.Clone(cfg.DefaultHeaders),
		token:   cfg.Token,
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs tool with params. It never returns an error: every failure
// is reported in the result with its kind and the elapsed time.
func (e *Engine) Execute(ctx context.Context, tool domain.ToolDefinition, params domain.Params) domain.ExecutionResult {
	ctx, span := tracer.StartSpan(ctx, "httpexec.execute")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", tool.Name),
		tracer.StringAttr("http.method", tool.Binding.Method),
	)

	start := time.Now()
	result := e.execute(ctx, tool, params, start)

	span.SetAttributes(
		tracer.IntAttr("http.status", result.Status),
		tracer.BoolAttr("tool.success", result.Success),
	)
	if result.Success {
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, errors.New(result.Error))
	}
	e.metrics.ObserveToolExecution(tool.Name, result.Outcome(), time.Since(start))

	e.logger.Debug("tool executed",
		"tool", tool.Name,
		"outcome", result.Outcome(),
		"status", result.Status,
		"elapsed_ms", result.ExecutionTimeMs,
	)
	return result
}

func (e *Engine) execute(ctx context.Context, tool domain.ToolDefinition, params domain.Params, start time.Time) domain.ExecutionResult {
	s := e.current.Load()

	p, err := plan(s, e.clientID, tool, params)
	if err != nil {
		kind := domain.ExecInternal
		var pe *planError
		if errors.As(err, &pe) {
			kind = pe.kind
		}
		return domain.Failure(kind, err.Error(), elapsedMs(start))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := p.newRequest(ctx, tool.Binding.Method, s.baseURL)
	if err != nil {
		return domain.Failure(domain.ExecInternal, err.Error(), elapsedMs(start))
	}

	result := e.do(req, start)
	if result.Success && e.contracts != nil && tool.Binding.ResponseSchema != nil {
		result.ContractViolations = e.contracts.check(tool.Name, tool.Binding.ResponseSchema, result.Data)
		if len(result.ContractViolations) > 0 {
			e.logger.Warn("response contract violated", "tool", tool.Name, "violations", result.ContractViolations)
		}
	}
	return result
}

// do sends req and classifies the outcome.
func (e *Engine) do(req *http.Request, start time.Time) domain.ExecutionResult {
	resp, err := e.client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("connection failed: no response from %s: %v", req.URL.Host, unwrapURLError(err))
		return domain.Failure(domain.ExecConnectivity, msg, elapsedMs(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		msg := fmt.Sprintf("connection failed: no response from %s: %v", req.URL.Host, err)
		return domain.Failure(domain.ExecConnectivity, msg, elapsedMs(start))
	}
	data := decodeBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res := domain.Failure(domain.ExecRemoteHTTP,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			elapsedMs(start))
		res.Status = resp.StatusCode
		res.Data = data
		return res
	}

	return domain.ExecutionResult{
		Success:         true,
		Data:            data,
		Status:          resp.StatusCode,
		Headers:         flattenHeaders(resp.Header),
		ExecutionTimeMs: elapsedMs(start),
	}
}

// HealthCheck issues GET <base><health path> with the usual classification.
func (e *Engine) HealthCheck(ctx context.Context) domain.ExecutionResult {
	ctx, span := tracer.StartSpan(ctx, "httpexec.health")
	defer span.End()

	start := time.Now()
	s := e.current.Load()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	target := s.baseURL + e.healthPath
	if err := checkTarget(target); err != nil {
		return domain.Failure(domain.ExecInternal, err.Error(), elapsedMs(start))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.Failure(domain.ExecInternal, err.Error(), elapsedMs(start))
	}
	req.Header = defaultHeaders(s, e.clientID)

	result := e.do(req, start)
	span.SetAttributes(tracer.IntAttr("http.status", result.Status))
	if result.Success {
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, errors.New(result.Error))
	}
	return result
}

// SetBaseURL replaces the target base URL. Trailing slashes are dropped.
func (e *Engine) SetBaseURL(u string) {
	e.update(func(s *settings) { s.baseURL = trimBase(u) })
}

// SetDefaultHeaders merges h into the default headers.
func (e *Engine) SetDefaultHeaders(h map[string]string) {
	e.update(func(s *settings) {
		merged := maps.Clone(s.headers)
		if merged == nil {
			merged = make(map[string]string, len(h))
		}
		maps.Copy(merged, h)
		s.headers = merged
	})
}

// SetBearerToken sets the default credential. An empty token clears it.
func (e *Engine) SetBearerToken(token string) {
	e.update(func(s *settings) { s.token = strings.TrimSpace(token) })
}

// Snapshot returns a copy of the current configuration.
func (e *Engine) Snapshot() Config {
	s := e.current.Load()
	return Config{
		BaseURL:        s.baseURL,
		DefaultHeaders: maps.Clone(s.headers),
		Token:          s.token,
		Timeout:        e.timeout,
		ClientID:       e.clientID,
		HealthPath:     e.healthPath,
		CheckContracts: e.contracts != nil,
	}
}

func (e *Engine) update(fn func(*settings)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *e.current.Load()
	fn(&next)
	e.current.Store(&next)
}

func trimBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// decodeBody returns the JSON value of raw, or raw as a string.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// unwrapURLError drops the *url.Error envelope, which repeats method and URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
