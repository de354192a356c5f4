// Package metrics records pipeline and turn metrics in a Prometheus registry.
package metrics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"sdr-agent/internal/domain"
)

// Turn outcomes.
const (
	TurnOK        = "ok"
	TurnFallback  = "fallback"
	TurnDeflected = "deflected"
)

// Recorder implements pipeline.Observer and counts turns. It owns its
// registry so several instances can coexist in tests.
type Recorder struct {
	namespace     string
	registry      *prometheus.Registry
	turns         *prometheus.CounterVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	messages      *prometheus.CounterVec
}

func NewRecorder(namespace string) *Recorder {
	r := &Recorder{namespace: namespace, registry: prometheus.NewRegistry()}

	r.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Inbound messages handled, by outcome",
		},
		[]string{"outcome"},
	)
	r.stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Pipeline stage executions, by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	r.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	r.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions",
		},
		[]string{"from", "to", "trigger"},
	)
	r.messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_messages_total",
			Help:      "Webhook messages received, by type",
		},
		[]string{"type"},
	)

	r.registry.MustRegister(r.turns, r.stageRuns, r.stageDuration, r.transitions, r.messages)
	return r
}

func (r *Recorder) StageDone(stage, outcome string, elapsed time.Duration) {
	r.stageRuns.WithLabelValues(stage, outcome).Inc()
	if elapsed > 0 {
		r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

func (r *Recorder) Transitioned(from, to domain.State, trigger domain.Trigger) {
	r.transitions.WithLabelValues(string(from), string(to), string(trigger)).Inc()
}

// TurnHandled counts one inbound message by outcome.
func (r *Recorder) TurnHandled(outcome string) {
	r.turns.WithLabelValues(outcome).Inc()
}

// WebhookMessage counts one inbound webhook message by WhatsApp type.
func (r *Recorder) WebhookMessage(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	r.messages.WithLabelValues(kind).Inc()
}

// TrackActiveSessions exports active as a gauge of identities currently
// holding or waiting for a session lock. *session.Manager.Active fits.
func (r *Recorder) TrackActiveSessions(active func() int) error {
	g := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      "active_sessions",
			Help:      "Identities with a turn in flight or queued",
		},
		func() float64 { return float64(active()) },
	)
	if err := r.registry.Register(g); err != nil {
		return fmt.Errorf("metrics: register active sessions: %w", err)
	}
	return nil
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Render returns the registry in the Prometheus text exposition format.
func (r *Recorder) Render() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: gather: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}
