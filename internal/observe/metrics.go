package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lokutor-ai/convo-engine"

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Metrics bundles every instrument the conversation engine records against.
// Constructed once per process and threaded through SessionManager,
// Orchestrator, and Transport.
type Metrics struct {
	TranscriptionDuration metric.Float64Histogram
	ReasoningDuration     metric.Float64Histogram
	SynthesisDuration     metric.Float64Histogram
	TurnLatency           metric.Float64Histogram

	TurnsCompleted   metric.Int64Counter
	TurnsErrored     metric.Int64Counter
	Interrupts       metric.Int64Counter
	FramesDropped    metric.Int64Counter
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics builds every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)

	var err error
	metrics := &Metrics{}

	if metrics.TranscriptionDuration, err = m.Float64Histogram("convo_stt_duration",
		metric.WithDescription("transcription call latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if metrics.ReasoningDuration, err = m.Float64Histogram("convo_llm_duration",
		metric.WithDescription("reasoning call latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if metrics.SynthesisDuration, err = m.Float64Histogram("convo_tts_duration",
		metric.WithDescription("synthesis call latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if metrics.TurnLatency, err = m.Float64Histogram("convo_turn_latency",
		metric.WithDescription("user-stop to bot-speak-start latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if metrics.TurnsCompleted, err = m.Int64Counter("convo_turns_completed",
		metric.WithDescription("turns that reached SPEAKING->IDLE cleanly")); err != nil {
		return nil, err
	}
	if metrics.TurnsErrored, err = m.Int64Counter("convo_turns_errored",
		metric.WithDescription("turns that ended in ERROR")); err != nil {
		return nil, err
	}
	if metrics.Interrupts, err = m.Int64Counter("convo_interrupts",
		metric.WithDescription("barge-in interrupts handled")); err != nil {
		return nil, err
	}
	if metrics.FramesDropped, err = m.Int64Counter("convo_frames_dropped",
		metric.WithDescription("inbound audio frames dropped for backpressure")); err != nil {
		return nil, err
	}
	if metrics.ProviderRequests, err = m.Int64Counter("convo_provider_requests",
		metric.WithDescription("requests issued to STT/LLM/TTS providers")); err != nil {
		return nil, err
	}
	if metrics.ProviderErrors, err = m.Int64Counter("convo_provider_errors",
		metric.WithDescription("failed STT/LLM/TTS provider requests")); err != nil {
		return nil, err
	}
	if metrics.ActiveSessions, err = m.Int64UpDownCounter("convo_active_sessions",
		metric.WithDescription("sessions currently tracked by the session manager")); err != nil {
		return nil, err
	}
	return metrics, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide Metrics built from the globally
// registered MeterProvider. Panics if instrument creation fails, since that
// indicates a programming error, not a runtime condition.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is a convenience alias for attribute.String.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
