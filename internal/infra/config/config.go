package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "TOOLBRIDGE_"

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	OpenAPI      OpenAPIConfig      `yaml:"openapi"`
	Target       TargetConfig       `yaml:"target"`
	LLM          ProviderConfig     `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Audit        AuditConfig        `yaml:"audit"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	Addr              string          `yaml:"addr"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// OpenAPIConfig points at the API description compiled into tools.
type OpenAPIConfig struct {
	Source string `yaml:"source"` // file path or http(s) URL
	Strict bool   `yaml:"strict"` // run document validation before compiling
}

// TargetConfig configures the execution engine's view of the target API.
type TargetConfig struct {
	BaseURL        string            `yaml:"base_url"`
	ClientID       string            `yaml:"client_id"`
	Token          string            `yaml:"token"` // supports enc: prefix
	DefaultHeaders map[string]string `yaml:"default_headers"`
	Timeout        time.Duration     `yaml:"timeout"`
	HealthPath     string            `yaml:"health_path"`
	CheckContracts bool              `yaml:"check_contracts"`
	Pool           PoolConfig        `yaml:"pool"`
}

// PoolConfig configures HTTP connection pooling.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig configures the model provider.
type ProviderConfig struct {
	Name           string               `yaml:"name"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"` // supports enc: prefix
	Model          string               `yaml:"model"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the provider circuit breaker.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// OrchestratorConfig bounds a conversation turn.
type OrchestratorConfig struct {
	ModelTimeout  time.Duration `yaml:"model_timeout"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	SystemPrompt  string        `yaml:"system_prompt"`
	EventBuffer   int           `yaml:"event_buffer"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout", or file path
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // "stdout" or "noop"
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or 1 = sample everything
}

// AuditConfig configures the tool execution audit trail.
type AuditConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	MaxAge  time.Duration `yaml:"max_age"`  // 0 = keep forever
	MaxSize string        `yaml:"max_size"` // e.g. "50MB"; empty = unbounded
}

// DefaultSystemPrompt introduces the assistant role. The tool catalog
// summary is appended per turn.
const DefaultSystemPrompt = "You are an assistant for a marketplace back office. " +
	"Use the available tools to read and change data through the API, and answer concisely."

// Defaults returns a Config populated with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8090",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		OpenAPI: OpenAPIConfig{
			Source: "openapi.yaml",
		},
		Target: TargetConfig{
			BaseURL:    "http://localhost:3000/api",
			ClientID:   "toolbridge",
			Timeout:    30 * time.Second,
			HealthPath: "/health",
		},
		LLM: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			ModelTimeout:  30 * time.Second,
			MaxToolRounds: 5,
			SystemPrompt:  DefaultSystemPrompt,
			EventBuffer:   64,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Audit: AuditConfig{
			Path: "toolbridge-audit.jsonl",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(envPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TOOLBRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(envPrefix + "OPENAPI_SOURCE"); v != "" {
		cfg.OpenAPI.Source = v
	}
	if v := os.Getenv(envPrefix + "TARGET_BASE_URL"); v != "" {
		cfg.Target.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "TARGET_TOKEN"); v != "" {
		cfg.Target.Token = v
	}
	if v := os.Getenv(envPrefix + "TARGET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Target.Timeout = d
		}
	}
	if v := os.Getenv(envPrefix + "LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(envPrefix + "LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv(envPrefix + "MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.ModelTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "MAX_TOOL_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxToolRounds = n
		}
	}
	if v := os.Getenv(envPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(envPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv(envPrefix + "AUDIT_ENABLED"); v == "true" {
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv(envPrefix + "AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
}

// decryptSecrets replaces enc: values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"llm.api_key", &cfg.LLM.APIKey},
		{"target.token", &cfg.Target.Token},
	}
	for _, f := range fields {
		if !strings.HasPrefix(*f.value, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*f.value, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = decrypted
	}
	for k, v := range cfg.Target.DefaultHeaders {
		if !strings.HasPrefix(v, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("target.default_headers.%s: %w", k, err)
		}
		cfg.Target.DefaultHeaders[k] = decrypted
	}
	return nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
