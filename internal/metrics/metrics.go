// Package metrics 提供面试流程的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

// 各网关共用的 outcome 标签值。
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Recorder 持有全部指标。nil Recorder 的所有方法都是空操作，便于测试中省略。
type Recorder struct {
	registry *prometheus.Registry

	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	turns            *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	speechFallbacks  *prometheus.CounterVec
}

// New 创建 Recorder 并注册到独立的 registry。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of external provider calls",
			},
			[]string{"capability", "provider", "outcome"}, // capability: transcription, generation, synthesis, analysis
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of external provider calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"capability", "provider"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of take-turn invocations by outcome",
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Total number of session phase transitions by target phase",
			},
			[]string{"phase"},
		),
		speechFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_fallbacks_total",
				Help:      "Total number of synthesis requests served by a non-primary backend",
			},
			[]string{"backend"},
		),
	}

	r.registry.MustRegister(
		r.providerRequests,
		r.providerDuration,
		r.turns,
		r.transitions,
		r.speechFallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回底层 registry。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /metrics 使用的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveProvider 记录一次外部调用。
func (r *Recorder) ObserveProvider(capability, provider, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(capability, provider, outcome).Inc()
	r.providerDuration.WithLabelValues(capability, provider).Observe(elapsed.Seconds())
}

// ObserveTurn 记录一次 take-turn 的结果。
func (r *Recorder) ObserveTurn(outcome string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
}

// ObserveTransition 记录会话进入的新阶段。
func (r *Recorder) ObserveTransition(phase string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(phase).Inc()
}

// ObserveSpeechFallback 记录语音合成降级到的后端。
func (r *Recorder) ObserveSpeechFallback(backend string) {
	if r == nil {
		return
	}
	r.speechFallbacks.WithLabelValues(backend).Inc()
}
