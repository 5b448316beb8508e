package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider records bridge metrics. A nil *Provider is valid and records
// nothing, so components can be built without a registry in tests.
type Provider struct {
	registry       *prometheus.Registry
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	streamEvents   *prometheus.CounterVec
	turns          *prometheus.CounterVec
	compiledTools  prometheus.Gauge
}

// New registers the bridge collectors on registry. It returns nil when
// registry is nil.
func New(registry *prometheus.Registry) *Provider {
	if registry == nil {
		return nil
	}

	p := &Provider{
		registry: registry,
		toolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_tool_executions_total",
				Help: "Total number of tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolbridge_tool_execution_seconds",
				Help:    "Tool execution latency against the target API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_stream_events_total",
				Help: "Total number of stream events emitted by event type",
			},
			[]string{"type"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolbridge_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		compiledTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolbridge_compiled_tools",
			Help: "Number of tools in the current catalog",
		}),
	}

	registry.MustRegister(
		p.toolExecutions,
		p.toolDuration,
		p.streamEvents,
		p.turns,
		p.compiledTools,
	)

	return p
}

// NewDefault builds a provider on a fresh registry that also carries the
// Go runtime and process collectors.
func NewDefault() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// ObserveToolExecution counts one execution and records its latency.
func (p *Provider) ObserveToolExecution(tool, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.toolExecutions.WithLabelValues(tool, outcome).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// IncrementStreamEvent counts one emitted stream event.
func (p *Provider) IncrementStreamEvent(eventType string) {
	if p == nil {
		return
	}
	p.streamEvents.WithLabelValues(eventType).Inc()
}

// IncrementTurn counts one finished turn.
func (p *Provider) IncrementTurn(outcome string) {
	if p == nil {
		return
	}
	p.turns.WithLabelValues(outcome).Inc()
}

// SetCompiledTools records the catalog size.
func (p *Provider) SetCompiledTools(n int) {
	if p == nil {
		return
	}
	p.compiledTools.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
