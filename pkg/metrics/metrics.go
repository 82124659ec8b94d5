// Package metrics exposes Prometheus instrumentation for voice sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice client. A nil
// *Metrics is valid everywhere it is accepted: recording methods no-op.
type Metrics struct {
	// Audio flow
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	BufferedSamples prometheus.Gauge

	// Keepalive
	PingsSent     prometheus.Counter
	PongsReceived prometheus.Counter
	Disconnects   prometheus.Counter
	Reconnects    prometheus.Counter

	// Session
	ConversationsStarted prometheus.Counter
	ConversationsEnded   prometheus.Counter
	Clears               prometheus.Counter
	TalkingTransitions   prometheus.Counter
}

// New creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer for normal use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_sent_total",
			Help: "Total number of outbound audio frames sent",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_received_total",
			Help: "Total number of inbound audio frames received",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_bytes_sent_total",
			Help: "Total outbound audio bytes sent",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_bytes_received_total",
			Help: "Total inbound audio bytes received",
		}),
		BufferedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_playback_buffered_samples",
			Help: "Samples currently queued for playback",
		}),
		PingsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_pings_sent_total",
			Help: "Total keepalive pings sent",
		}),
		PongsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_pongs_received_total",
			Help: "Total keepalive pongs received",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_disconnects_total",
			Help: "Total liveness disconnect signals",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reconnects_total",
			Help: "Total liveness reconnect signals",
		}),
		ConversationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_conversations_started_total",
			Help: "Total conversations started",
		}),
		ConversationsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_conversations_ended_total",
			Help: "Total conversations ended",
		}),
		Clears: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_buffer_clears_total",
			Help: "Total playback buffer clear commands received",
		}),
		TalkingTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_talking_transitions_total",
			Help: "Total agent start/stop talking transitions",
		}),
	}
}

// FrameSent records one outbound audio frame of n bytes.
func (m *Metrics) FrameSent(n int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(n))
}

// FrameReceived records one inbound audio frame of n bytes.
func (m *Metrics) FrameReceived(n int) {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// PingSent records one keepalive ping.
func (m *Metrics) PingSent() {
	if m == nil {
		return
	}
	m.PingsSent.Inc()
}

// PongReceived records one keepalive pong.
func (m *Metrics) PongReceived() {
	if m == nil {
		return
	}
	m.PongsReceived.Inc()
}

// Disconnect records one liveness disconnect.
func (m *Metrics) Disconnect() {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
}

// Reconnect records one liveness reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// ConversationStarted records one started conversation.
func (m *Metrics) ConversationStarted() {
	if m == nil {
		return
	}
	m.ConversationsStarted.Inc()
}

// ConversationEnded records one ended conversation.
func (m *Metrics) ConversationEnded() {
	if m == nil {
		return
	}
	m.ConversationsEnded.Inc()
}

// Clear records one playback buffer clear.
func (m *Metrics) Clear() {
	if m == nil {
		return
	}
	m.Clears.Inc()
}

// TalkingTransition records one start or stop talking transition.
func (m *Metrics) TalkingTransition() {
	if m == nil {
		return
	}
	m.TalkingTransitions.Inc()
}

// BufferDepth records the current playback buffer occupancy in samples.
func (m *Metrics) BufferDepth(samples int) {
	if m == nil {
		return
	}
	m.BufferedSamples.Set(float64(samples))
}
