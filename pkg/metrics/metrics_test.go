package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordingMethods(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.FrameSent(2048)
	m.FrameSent(2048)
	m.FrameReceived(1024)
	m.PingSent()
	m.PongReceived()
	m.Disconnect()
	m.Reconnect()
	m.ConversationStarted()
	m.ConversationEnded()
	m.Clear()
	m.TalkingTransition()
	m.TalkingTransition()

	if got := testutil.ToFloat64(m.FramesSent); got != 2 {
		t.Errorf("frames sent: got %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 4096 {
		t.Errorf("bytes sent: got %f, want 4096", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 1024 {
		t.Errorf("bytes received: got %f, want 1024", got)
	}
	if got := testutil.ToFloat64(m.TalkingTransitions); got != 2 {
		t.Errorf("talking transitions: got %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.Disconnects); got != 1 {
		t.Errorf("disconnects: got %f, want 1", got)
	}
}

func TestNilMetricsNoop(t *testing.T) {
	var m *Metrics

	// All recording methods must be safe on a nil receiver.
	m.FrameSent(100)
	m.FrameReceived(100)
	m.PingSent()
	m.PongReceived()
	m.Disconnect()
	m.Reconnect()
	m.ConversationStarted()
	m.ConversationEnded()
	m.Clear()
	m.TalkingTransition()
}
