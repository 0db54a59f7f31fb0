package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/darkostanimirovic/groupchat/providers"
)

type startKey string

const (
	turnStartKey startKey = "groupchat_metrics_turn_start"
	llmStartKey  startKey = "groupchat_metrics_llm_start"
	toolStartKey startKey = "groupchat_metrics_tool_start"
)

// Metrics records Prometheus metrics for turns, LLM calls and tool calls.
type Metrics struct {
	BaseMiddleware

	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	llmCallsTotal *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors under namespace and registers them with reg.
// A nil reg skips registration.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of speaker turns.",
			},
			[]string{"speaker", "status"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time taken by a speaker to produce a reply.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"speaker"},
		),
		llmCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_calls_total",
				Help:      "Total number of LLM provider calls.",
			},
			[]string{"agent", "model", "status"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_call_duration_seconds",
				Help:      "LLM provider call latency.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens consumed by LLM calls.",
			},
			[]string{"agent", "type"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of function and code executions.",
			},
			[]string{"agent", "tool", "status"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Function and code execution latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.turnsTotal, m.turnDuration,
		m.llmCallsTotal, m.llmDuration, m.llmTokens,
		m.toolCalls, m.toolDuration,
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func since(ctx context.Context, key startKey) (time.Duration, bool) {
	start, ok := ctx.Value(key).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

func (m *Metrics) OnTurnStart(ctx context.Context, _ int, _ string) context.Context {
	return context.WithValue(ctx, turnStartKey, time.Now())
}

func (m *Metrics) OnTurnComplete(ctx context.Context, _ int, speaker string, err error) {
	m.turnsTotal.WithLabelValues(speaker, status(err)).Inc()
	if d, ok := since(ctx, turnStartKey); ok {
		m.turnDuration.WithLabelValues(speaker).Observe(d.Seconds())
	}
}

func (m *Metrics) OnToolStart(ctx context.Context, _, _ string, _ map[string]any) context.Context {
	return context.WithValue(ctx, toolStartKey, time.Now())
}

func (m *Metrics) OnToolComplete(ctx context.Context, agent, tool string, _ string, err error) {
	m.toolCalls.WithLabelValues(agent, tool, status(err)).Inc()
	if d, ok := since(ctx, toolStartKey); ok {
		m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

func (m *Metrics) OnLLMCall(ctx context.Context, _ string, _ providers.CompletionRequest) context.Context {
	return context.WithValue(ctx, llmStartKey, time.Now())
}

func (m *Metrics) OnLLMResponse(ctx context.Context, agent string, resp *providers.CompletionResponse, err error) {
	model := ""
	if resp != nil {
		model = resp.Model
	}
	m.llmCallsTotal.WithLabelValues(agent, model, status(err)).Inc()
	if d, ok := since(ctx, llmStartKey); ok {
		m.llmDuration.WithLabelValues(agent).Observe(d.Seconds())
	}
	if resp != nil {
		m.llmTokens.WithLabelValues(agent, "prompt").Add(float64(resp.Usage.PromptTokens))
		m.llmTokens.WithLabelValues(agent, "completion").Add(float64(resp.Usage.CompletionTokens))
	}
}
