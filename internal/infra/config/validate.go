package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateOpenAPI(cfg, ve)
	validateTarget(cfg, ve)
	validateLLM(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateAudit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		ve.Add("server.read_header_timeout must be > 0")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be > 0")
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		if rl.RequestsPerMin <= 0 {
			ve.Add("server.rate_limit.requests_per_min must be > 0 when rate limiting is enabled")
		}
		if rl.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
		for i, p := range rl.TrustedProxies {
			if net.ParseIP(p) == nil {
				ve.Add("server.rate_limit.trusted_proxies[%d] %q is not an IP address", i, p)
			}
		}
	}
}

func validateOpenAPI(cfg *Config, ve *ValidationError) {
	if cfg.OpenAPI.Source == "" {
		ve.Add("openapi.source must not be empty")
	}
}

func validateTarget(cfg *Config, ve *ValidationError) {
	validateHTTPURL("target.base_url", cfg.Target.BaseURL, ve)
	if cfg.Target.Timeout <= 0 {
		ve.Add("target.timeout must be > 0")
	}
	if cfg.Target.HealthPath != "" && !strings.HasPrefix(cfg.Target.HealthPath, "/") {
		ve.Add("target.health_path %q must start with /", cfg.Target.HealthPath)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.Name == "" {
		ve.Add("llm.name must not be empty")
	}
	if cfg.LLM.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	validateHTTPURL("llm.base_url", cfg.LLM.BaseURL, ve)
	if cfg.LLM.ConnTimeout < 0 || cfg.LLM.RespTimeout < 0 {
		ve.Add("llm timeouts must be >= 0")
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.ModelTimeout <= 0 {
		ve.Add("orchestrator.model_timeout must be > 0")
	}
	if o.MaxToolRounds <= 0 {
		ve.Add("orchestrator.max_tool_rounds must be > 0")
	}
	if o.EventBuffer < 0 {
		ve.Add("orchestrator.event_buffer must be >= 0")
	}
	if strings.TrimSpace(o.SystemPrompt) == "" {
		ve.Add("orchestrator.system_prompt must not be empty")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validLogFormats = map[string]bool{
	"text": true, "json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{
	"stdout": true, "noop": true, "": true,
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio %v must be within [0, 1]", r)
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	a := cfg.Audit
	if !a.Enabled {
		return
	}
	if strings.TrimSpace(a.Path) == "" {
		ve.Add("audit.path must not be empty when auditing is enabled")
	}
	if a.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if !validSize.MatchString(strings.ToUpper(strings.TrimSpace(a.MaxSize))) {
		ve.Add("audit.max_size %q is invalid (want e.g. 512KB, 50MB, 1GB)", a.MaxSize)
	}
}

var validSize = regexp.MustCompile(`^([0-9]+\s*(B|KB|MB|GB)?)?$`)

func validateHTTPURL(field, raw string, ve *ValidationError) {
	if raw == "" {
		ve.Add("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("%s %q must be an absolute http(s) URL", field, raw)
	}
}
