package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockEndpoint simulates the remote voice endpoint for testing.
type mockEndpoint struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	mu       sync.Mutex
	lastURL  string
	received [][]byte // binary frames received
	texts    []string // text frames received
	conn     *websocket.Conn
}

func newMockEndpoint() *mockEndpoint {
	m := &mockEndpoint{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.lastURL = r.URL.String()
	m.mu.Unlock()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.mu.Lock()
		if mt == websocket.BinaryMessage {
			m.received = append(m.received, data)
		} else if mt == websocket.TextMessage {
			m.texts = append(m.texts, string(data))
		}
		m.mu.Unlock()
	}
}

func (m *mockEndpoint) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockEndpoint) send(messageType int, data []byte) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.WriteMessage(messageType, data)
}

func (m *mockEndpoint) closeWith(code int, reason string) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.Close()
}

func (m *mockEndpoint) close() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func dialTestSession(t *testing.T, m *mockEndpoint, enableUpdate bool) *Session {
	t.Helper()

	s := NewSession(Config{
		Endpoint:     m.wsURL(),
		AgentID:      "agent-123",
		SessionToken: "tok-456",
		EnableUpdate: enableUpdate,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Dial(ctx); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return s
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestDialQueryParamsAndOpened(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	defer s.Close()

	if _, ok := nextEvent(t, s).(Opened); !ok {
		t.Fatal("expected Opened as first event")
	}

	m.mu.Lock()
	u := m.lastURL
	m.mu.Unlock()

	if !strings.Contains(u, "agent_id=agent-123") {
		t.Errorf("URL missing agent_id param: %s", u)
	}
	if !strings.Contains(u, "session_token=tok-456") {
		t.Errorf("URL missing session_token param: %s", u)
	}
	// The deprecated convention must not be emitted.
	if strings.Contains(u, "agent=") && !strings.Contains(u, "agent_id=") {
		t.Errorf("deprecated query convention used: %s", u)
	}
}

func TestInboundFrameRouting(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, true)
	defer s.Close()

	nextEvent(t, s) // Opened

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := m.send(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("send binary: %v", err)
	}
	if err := m.send(websocket.TextMessage, []byte("pong")); err != nil {
		t.Fatalf("send pong: %v", err)
	}
	if err := m.send(websocket.TextMessage, []byte("clear")); err != nil {
		t.Fatalf("send clear: %v", err)
	}
	if err := m.send(websocket.TextMessage, []byte(`{"event":"turn"}`)); err != nil {
		t.Fatalf("send update: %v", err)
	}

	frame, ok := nextEvent(t, s).(AudioFrame)
	if !ok {
		t.Fatal("expected AudioFrame")
	}
	if string(frame.Data) != string(pcm) {
		t.Errorf("frame data mismatch: got %v", frame.Data)
	}

	if _, ok := nextEvent(t, s).(Pong); !ok {
		t.Fatal("expected Pong for literal pong token")
	}
	if _, ok := nextEvent(t, s).(Clear); !ok {
		t.Fatal("expected Clear for literal clear token")
	}

	update, ok := nextEvent(t, s).(Update)
	if !ok {
		t.Fatal("expected Update for unrecognized text frame")
	}
	if string(update.Raw) != `{"event":"turn"}` {
		t.Errorf("update payload mismatch: %s", update.Raw)
	}
}

func TestUpdateSuppressedWhenDisabled(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	defer s.Close()

	nextEvent(t, s) // Opened

	if err := m.send(websocket.TextMessage, []byte(`{"event":"turn"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := m.send(websocket.TextMessage, []byte("pong")); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The JSON frame must be ignored; the next event is the pong.
	if _, ok := nextEvent(t, s).(Pong); !ok {
		t.Fatal("expected Pong; update frames should be dropped when disabled")
	}
}

func TestSendAndPing(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	defer s.Close()

	nextEvent(t, s) // Opened

	s.Send([]byte{0xaa, 0xbb})
	s.SendPing()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		frames, texts := len(m.received), len(m.texts)
		m.mu.Unlock()
		if frames == 1 && texts == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) != 1 || string(m.received[0]) != string([]byte{0xaa, 0xbb}) {
		t.Errorf("binary frames received: %v", m.received)
	}
	if len(m.texts) != 1 || m.texts[0] != "ping" {
		t.Errorf("text frames received: %v", m.texts)
	}
}

func TestSendWhileClosedIsSilentNoop(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	nextEvent(t, s) // Opened

	s.Close()

	// Must not panic, error, or queue anything.
	s.Send([]byte{0x01, 0x02})
	s.SendPing()

	time.Sleep(50 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) != 0 {
		t.Errorf("frames sent after close: %d", len(m.received))
	}
}

func TestPeerCloseEmitsClosed(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	defer s.Close()

	nextEvent(t, s) // Opened

	m.closeWith(websocket.CloseGoingAway, "shutting down")

	closed, ok := nextEvent(t, s).(Closed)
	if !ok {
		t.Fatal("expected Closed event")
	}
	if closed.Code != websocket.CloseGoingAway {
		t.Errorf("close code: got %d, want %d", closed.Code, websocket.CloseGoingAway)
	}
	if closed.Reason != "shutting down" {
		t.Errorf("close reason: got %q", closed.Reason)
	}
}

func TestAbruptDropEmitsTransportError(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	defer s.Close()

	nextEvent(t, s) // Opened

	// Kill the TCP connection without a close handshake.
	m.mu.Lock()
	m.conn.UnderlyingConn().Close()
	m.mu.Unlock()

	switch ev := nextEvent(t, s).(type) {
	case TransportError:
		if ev.Err == nil {
			t.Error("TransportError with nil error")
		}
	case Closed:
		// Some platforms surface an abrupt drop as an abnormal closure.
		if ev.Code == websocket.CloseNormalClosure {
			t.Error("abrupt drop should not look like a normal close")
		}
	default:
		t.Fatalf("unexpected event %T", ev)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newMockEndpoint()
	defer m.close()

	s := dialTestSession(t, m, false)
	nextEvent(t, s) // Opened

	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
