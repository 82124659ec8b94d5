// Package transport wraps one ordered, reliable, message-based duplex
// channel to the remote voice endpoint and turns raw frames into typed
// events. Binary frames carry raw PCM16 audio with no framing header;
// text frames carry the control tokens "ping", "pong" and "clear".
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Control tokens on the text channel. Case-sensitive literals.
const (
	tokenPing  = "ping"
	tokenPong  = "pong"
	tokenClear = "clear"
)

// Event is the closed set of typed events a Session emits.
type Event interface{ transportEvent() }

// Opened signals the transport became ready.
type Opened struct{}

// AudioFrame carries one binary message of interleaved PCM16 bytes.
type AudioFrame struct{ Data []byte }

// Pong is the peer's answer to a keepalive ping.
type Pong struct{}

// Clear instructs the client to flush its local playback buffer.
type Clear struct{}

// Update carries an opaque JSON payload from any unrecognized text frame.
// Only emitted when the session was configured with EnableUpdate.
type Update struct{ Raw json.RawMessage }

// Closed signals transport shutdown with the peer's close code and reason.
type Closed struct {
	Code   int
	Reason string
}

// TransportError signals a read or protocol failure on the channel.
type TransportError struct{ Err error }

func (Opened) transportEvent()         {}
func (AudioFrame) transportEvent()     {}
func (Pong) transportEvent()           {}
func (Clear) transportEvent()          {}
func (Update) transportEvent()         {}
func (Closed) transportEvent()         {}
func (TransportError) transportEvent() {}

// Config holds transport session configuration. Endpoint is the base
// websocket URL; credentials are appended as query parameters. The
// endpoint is always explicit here, never a package-level default.
type Config struct {
	Endpoint     string
	AgentID      string
	SessionToken string
	EnableUpdate bool // pass through unrecognized text frames as Update events
	Logger       *slog.Logger
}

// Session manages one websocket connection to the voice endpoint.
type Session struct {
	cfg     Config
	conn    *websocket.Conn
	open    bool
	mu      sync.Mutex
	logger  *slog.Logger
	eventCh chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession creates a session. No connection is made until Dial.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		eventCh: make(chan Event, 256), // Bounded event queue
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dial connects to the endpoint and starts the read loop. The connection
// URI is <endpoint>?agent_id=<agentID>&session_token=<sessionToken>.
// The older agent=/token= convention is deprecated and not emitted.
func (s *Session) Dial(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", s.cfg.Endpoint, err)
	}
	q := u.Query()
	q.Set("agent_id", s.cfg.AgentID)
	q.Set("session_token", s.cfg.SessionToken)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		s.logger.Error("failed to connect to voice endpoint", "endpoint", s.cfg.Endpoint, "error", err)
		return err
	}

	s.conn = conn
	s.open = true
	s.logger.Info("connected to voice endpoint", "endpoint", s.cfg.Endpoint, "agent_id", s.cfg.AgentID)

	s.emit(Opened{})

	s.wg.Add(1)
	go s.readLoop(conn)

	return nil
}

// readLoop turns inbound frames into typed events until the connection dies.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.open = false
			s.mu.Unlock()

			if s.ctx.Err() != nil {
				// Local close already in progress; no event.
				return
			}

			var closeErr *websocket.CloseError
			if ce, ok := err.(*websocket.CloseError); ok {
				closeErr = ce
			}
			if closeErr != nil {
				s.logger.Info("transport closed by peer", "code", closeErr.Code, "reason", closeErr.Text)
				s.emit(Closed{Code: closeErr.Code, Reason: closeErr.Text})
			} else {
				s.logger.Error("transport read error", "error", err)
				s.emit(TransportError{Err: err})
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.emit(AudioFrame{Data: data})

		case websocket.TextMessage:
			switch string(data) {
			case tokenPong:
				s.emit(Pong{})
			case tokenClear:
				s.emit(Clear{})
			default:
				if s.cfg.EnableUpdate {
					s.emit(Update{Raw: json.RawMessage(data)})
				} else {
					s.logger.Debug("ignoring text frame", "bytes", len(data))
				}
			}
		}
	}
}

// emit queues an event, dropping on a full queue (bounded backpressure).
func (s *Session) emit(ev Event) {
	select {
	case s.eventCh <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// Send transmits one outbound audio frame. When the transport is not in
// the open state the frame is silently dropped: delivery is at-most-once
// best-effort, with no queueing and no error. This is a deliberate named
// no-op branch, not an accident.
func (s *Session) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.open {
		return // send-while-closed: dropped by contract
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Debug("audio frame write failed", "error", err)
	}
}

// SendPing transmits the "ping" control token under the same readiness
// guard as Send.
func (s *Session) SendPing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.open {
		return // send-while-closed: dropped by contract
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(tokenPing)); err != nil {
		s.logger.Debug("ping write failed", "error", err)
	}
}

// Events returns the typed event channel.
func (s *Session) Events() <-chan Event {
	return s.eventCh
}

// IsOpen reports whether the transport is ready for sends.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close requests transport shutdown. Subsequent sends are no-ops. Safe to
// call multiple times.
func (s *Session) Close() error {
	s.cancel()

	s.mu.Lock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
		s.open = false
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
