package voicegw

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aira_voice"

// Pipeline stages, used as metric labels.
const (
	stageDecode     = "decode"
	stageTranscribe = "transcribe"
	stageChat       = "chat"
	stageSynthesize = "synthesize"
)

// Turn outcomes.
const (
	outcomeReply   = "reply"
	outcomeGoodbye = "goodbye"
	outcomeError   = "error"
)

// Metrics holds the gateway's Prometheus metrics.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge

	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec

	Turns        *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec
	StageErrors  *prometheus.CounterVec

	AudioBytesReceived prometheus.Counter
	AudioBytesSent     prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of voice sockets accepted",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open voice sockets",
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from clients by type",
		}, []string{"type"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to clients by type",
		}, []string{"type"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Utterances processed by outcome",
		}, []string{"outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Latency of each pipeline stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures",
		}, []string{"stage"}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Decoded utterance bytes received",
		}),
		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Synthesized audio bytes sent",
		}),
	}
}
