// Package observability wires OpenTelemetry metrics and tracing for
// match runs: a meter backed by the Prometheus exporter and a tracer
// with OTLP or stdout export. Everything degrades to no-ops when
// disabled, so callers never branch on configuration.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Tracing TracerConfig  `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SetDefaults fills in exporter and endpoint defaults. Both tracing
// and metrics stay disabled unless explicitly enabled.
func (c *Config) SetDefaults() {
	if c.Tracing.ExporterType == "" {
		c.Tracing.ExporterType = "otlp"
	}
	if c.Tracing.EndpointURL == "" {
		c.Tracing.EndpointURL = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "dilemma"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	config         Config
	mu             sync.RWMutex
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)

	return nil
}

func (m *Manager) GetTracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return spt.Shutdown(ctx)
	}
	return nil
}
