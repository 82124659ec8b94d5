// Package keepalive detects silent transport death through an
// application-level ping/pong probe with a two-stage escalation policy.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default cadence: probe every 5s; once a pong deadline is missed, escalate
// to 1s pings and give the peer a final 3s to answer before signaling
// disconnect. The cadence only ever tightens for the life of one session.
const (
	DefaultInterval          = 5 * time.Second
	DefaultEscalatedInterval = 1 * time.Second
	DefaultEscalatedDeadline = 3 * time.Second
)

// Config holds keepalive monitor configuration.
type Config struct {
	Interval          time.Duration // initial ping cadence and pong deadline
	EscalatedInterval time.Duration // ping cadence after the first missed deadline
	EscalatedDeadline time.Duration // final pong deadline after escalation
	SendPing          func()        // invoked on every ping tick
	OnDisconnect      func()        // invoked once per liveness loss
	OnReconnect       func()        // invoked when a pong arrives after disconnect
	Logger            *slog.Logger
}

// Monitor owns the repeating ping emission and the pong deadline timer.
// All timer state lives on a single goroutine; Pong and Stop are safe to
// call from any goroutine.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	pongCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewMonitor creates a monitor. It is inert until Start is called.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EscalatedInterval <= 0 {
		cfg.EscalatedInterval = DefaultEscalatedInterval
	}
	if cfg.EscalatedDeadline <= 0 {
		cfg.EscalatedDeadline = DefaultEscalatedDeadline
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		cfg:    cfg,
		logger: cfg.Logger,
		pongCh: make(chan struct{}, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start sends the first ping and begins the probe loop. Calling Start more
// than once is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.run()
}

// Pong records a pong from the peer, re-arming the deadline timer.
// Coalescing is fine: dropped signals only happen when one is pending.
func (m *Monitor) Pong() {
	select {
	case m.pongCh <- struct{}{}:
	default:
	}
}

// Stop cancels all timers and waits for the probe loop to exit. Safe to
// call multiple times and before Start; after Stop no callback will fire.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	interval := m.cfg.Interval
	escalated := false
	disconnected := false

	// First ping goes out immediately; the deadline for its pong is one
	// full interval.
	m.cfg.SendPing()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.NewTimer(interval)
	defer deadline.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.cfg.SendPing()

		case <-m.pongCh:
			if disconnected {
				disconnected = false
				m.logger.Info("pong received after liveness loss, peer is back")
				if m.cfg.OnReconnect != nil {
					m.cfg.OnReconnect()
				}
			}
			// Re-arm the deadline at the current cadence. The cadence
			// never relaxes back to the initial interval.
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(interval)

		case <-deadline.C:
			if !escalated {
				// First missed deadline: tighten the probe cadence and
				// give the peer one last, shorter deadline.
				escalated = true
				interval = m.cfg.EscalatedInterval
				ticker.Reset(interval)
				deadline.Reset(m.cfg.EscalatedDeadline)
				m.logger.Warn("pong deadline missed, escalating ping cadence",
					"interval_ms", interval.Milliseconds(),
					"deadline_ms", m.cfg.EscalatedDeadline.Milliseconds())
			} else if !disconnected {
				// Second miss: the transport is silently dead. The
				// deadline stays unarmed, so repeated expiry is impossible
				// until a pong revives it.
				disconnected = true
				m.logger.Warn("pong deadline missed twice, signaling disconnect")
				if m.cfg.OnDisconnect != nil {
					m.cfg.OnDisconnect()
				}
			}
		}
	}
}
