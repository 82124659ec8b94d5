// Package call orchestrates one voice conversation: the lifecycle state
// machine, the transport session, the audio pipeline, the keepalive
// monitor, and the public event surface.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echowire/echowire-go/pkg/audioio"
	"github.com/echowire/echowire-go/pkg/keepalive"
	"github.com/echowire/echowire-go/pkg/metrics"
	"github.com/echowire/echowire-go/pkg/pcm"
	"github.com/echowire/echowire-go/pkg/pipeline"
	"github.com/echowire/echowire-go/pkg/transport"
)

// audioLevelLogEvery controls how often the capture path logs its level.
const audioLevelLogEvery = 100

// Config holds per-client configuration. The endpoint is always an
// explicit value here; there is no package-level default.
type Config struct {
	Endpoint     string // base websocket endpoint
	AgentID      string
	SessionToken string

	// EndOnLivenessLoss makes a keepalive disconnect tear down the call.
	// Default false: the Disconnect event is emitted and the caller
	// decides whether to act on it.
	EndOnLivenessLoss bool

	// Keepalive cadence overrides; zero values use the package defaults.
	KeepaliveInterval          time.Duration
	KeepaliveEscalatedInterval time.Duration
	KeepaliveEscalatedDeadline time.Duration

	// RealtimeSupported selects the low-latency worker pipeline when it
	// reports true. Nil selects the polled fallback.
	RealtimeSupported pipeline.CapabilityProbe

	// BlockSize overrides the pipeline block size; 0 uses variant defaults.
	BlockSize int

	// OpenSource and OpenSink acquire host audio devices. Nil defaults
	// to the PortAudio backend.
	OpenSource func(audioio.Config) (audioio.Source, error)
	OpenSink   func(audioio.Config) (audioio.Sink, error)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// StartOptions configure one conversation start.
type StartOptions struct {
	SampleRate int // required; drives device and implied wire rate

	// CallID identifies the call; a UUID is generated when empty.
	CallID string

	// CustomSource bypasses device acquisition with a pre-acquired
	// capture stream.
	CustomSource audioio.Source

	// CustomSink bypasses output device acquisition.
	CustomSink audioio.Sink

	// EnableUpdate passes through unrecognized endpoint text frames as
	// UpdateEvent notifications.
	EnableUpdate bool

	// EndpointOverride replaces the configured base endpoint for this
	// call only.
	EndpointOverride string
}

// Conversation owns exactly one transport session, one audio pipeline,
// one jitter buffer and one keepalive monitor for the lifetime of one
// call. None of them are shared across conversations or reused after
// teardown; start a new Conversation for a new call.
type Conversation struct {
	cfg    Config
	logger *slog.Logger
	m      *metrics.Metrics

	eventCh chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	calling atomic.Bool
	talking atomic.Bool
	stopReq atomic.Bool

	capturedCount atomic.Int64

	mu       sync.Mutex
	state    State
	callID   string
	sess     *transport.Session
	pipe     pipeline.Pipeline
	monitor  *keepalive.Monitor
	src      audioio.Source
	sink     audioio.Sink
	errored  bool // ErrorEvent already emitted
	ended    bool // ConversationEnded already emitted
	tornDown bool
}

// NewConversation creates a conversation in the Idle state.
func NewConversation(cfg Config) *Conversation {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OpenSource == nil {
		cfg.OpenSource = func(ac audioio.Config) (audioio.Source, error) {
			return audioio.NewPortAudioSource(ac, cfg.Logger)
		}
	}
	if cfg.OpenSink == nil {
		cfg.OpenSink = func(ac audioio.Config) (audioio.Sink, error) {
			return audioio.NewPortAudioSink(ac, cfg.Logger)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Conversation{
		cfg:     cfg,
		logger:  cfg.Logger,
		m:       cfg.Metrics,
		eventCh: make(chan Event, 256), // Bounded event queue
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
}

// StartConversation acquires audio, connects the transport and brings
// the call up. It returns exactly once per invocation; on failure the
// lifecycle deterministically lands in Failed with a single ErrorEvent
// emitted.
func (c *Conversation) StartConversation(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("conversation already started (state %s)", state)
	}
	if opts.SampleRate <= 0 {
		c.mu.Unlock()
		return c.fail(fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate))
	}
	c.state = StateSettingUpAudio
	c.callID = opts.CallID
	if c.callID == "" {
		c.callID = uuid.NewString()
	}
	c.mu.Unlock()

	c.logger.Info("starting conversation",
		"call_id", c.callID, "sample_rate", opts.SampleRate, "agent_id", c.cfg.AgentID)

	// Host audio acquisition. A pre-acquired source bypasses the device
	// (and with it any permission prompt).
	blockSize := c.cfg.BlockSize
	if blockSize <= 0 {
		if c.cfg.RealtimeSupported != nil && c.cfg.RealtimeSupported() {
			blockSize = pipeline.DefaultWorkerBlockSize
		} else {
			blockSize = pipeline.DefaultPolledBlockSize
		}
	}
	audioCfg := audioio.Config{SampleRate: opts.SampleRate, BlockSize: blockSize}

	src := opts.CustomSource
	if src == nil {
		var err error
		src, err = c.cfg.OpenSource(audioCfg)
		if err != nil {
			return c.fail(fmt.Errorf("audio capture acquisition failed: %w", err))
		}
	}
	sink := opts.CustomSink
	if sink == nil {
		var err error
		sink, err = c.cfg.OpenSink(audioCfg)
		if err != nil {
			src.Close()
			return c.fail(fmt.Errorf("audio output acquisition failed: %w", err))
		}
	}

	pipe := pipeline.New(c.cfg.RealtimeSupported, pipeline.Config{BlockSize: blockSize},
		src, sink, pipeline.Hooks{
			OnCaptured:     c.onCaptured,
			OnAudioOut:     c.onAudioOut,
			OnStartTalking: c.onStartTalking,
			OnStopTalking:  c.onStopTalking,
			IsCalling:      c.IsCalling,
			OnBufferDepth:  c.m.BufferDepth,
		})

	c.mu.Lock()
	if c.tornDown {
		// Teardown already ran with nothing stored; it cannot release
		// what was acquired after it, so unwind inline.
		c.mu.Unlock()
		pipe.Stop()
		src.Close()
		sink.Close()
		return fmt.Errorf("conversation stopped during setup")
	}
	c.src = src
	c.sink = sink
	c.pipe = pipe
	stopRequested := c.stopReq.Load()
	if !stopRequested {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	// Stop can land at any point during setup; every stage checks and
	// unwinds through the same teardown path.
	if stopRequested {
		c.teardown(0, "", true)
		return fmt.Errorf("conversation stopped during setup")
	}

	endpoint := c.cfg.Endpoint
	if opts.EndpointOverride != "" {
		endpoint = opts.EndpointOverride
	}

	sess := transport.NewSession(transport.Config{
		Endpoint:     endpoint,
		AgentID:      c.cfg.AgentID,
		SessionToken: c.cfg.SessionToken,
		EnableUpdate: opts.EnableUpdate,
		Logger:       c.logger,
	})

	if err := sess.Dial(ctx); err != nil {
		return c.fail(fmt.Errorf("transport connect failed: %w", err))
	}

	monitor := keepalive.NewMonitor(keepalive.Config{
		Interval:          c.cfg.KeepaliveInterval,
		EscalatedInterval: c.cfg.KeepaliveEscalatedInterval,
		EscalatedDeadline: c.cfg.KeepaliveEscalatedDeadline,
		SendPing:          c.sendPing,
		OnDisconnect:      c.onLivenessLost,
		OnReconnect:       c.onLivenessBack,
		Logger:            c.logger,
	})

	c.mu.Lock()
	if c.tornDown {
		// Audio resources were stored earlier, so teardown released
		// them; only the fresh session needs unwinding here.
		c.mu.Unlock()
		sess.Close()
		return fmt.Errorf("conversation stopped during setup")
	}
	c.sess = sess
	c.monitor = monitor
	stopRequested = c.stopReq.Load()
	c.mu.Unlock()

	if stopRequested {
		c.teardown(0, "", true)
		return fmt.Errorf("conversation stopped during setup")
	}

	if err := pipe.Start(); err != nil {
		return c.fail(fmt.Errorf("audio pipeline start failed: %w", err))
	}

	c.wg.Add(1)
	go c.run(sess)

	return nil
}

// run processes transport events until the call ends.
func (c *Conversation) run(sess *transport.Session) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case ev := <-sess.Events():
			switch ev := ev.(type) {
			case transport.Opened:
				// Activation happens under the mutex so a concurrent
				// teardown either precedes it (guard trips) or follows
				// it completely; the two can never interleave.
				c.mu.Lock()
				if c.tornDown || c.monitor == nil {
					c.mu.Unlock()
					return
				}
				c.state = StateActive
				c.calling.Store(true)
				c.monitor.Start()
				c.m.ConversationStarted()
				c.logger.Info("conversation active", "call_id", c.callID)
				c.emit(ConversationStarted{})
				c.mu.Unlock()

			case transport.AudioFrame:
				c.m.FrameReceived(len(ev.Data))
				c.mu.Lock()
				pipe := c.pipe
				c.mu.Unlock()
				if pipe != nil {
					pipe.PushPlayback(pcm.Decode(ev.Data))
				}

			case transport.Pong:
				c.m.PongReceived()
				c.mu.Lock()
				monitor := c.monitor
				c.mu.Unlock()
				if monitor != nil {
					monitor.Pong()
				}

			case transport.Clear:
				c.m.Clear()
				c.mu.Lock()
				pipe := c.pipe
				c.mu.Unlock()
				if pipe != nil {
					pipe.Clear()
				}

			case transport.Update:
				c.emit(UpdateEvent{Raw: ev.Raw})

			case transport.Closed:
				c.logger.Info("transport closed, ending conversation",
					"call_id", c.callID, "code", ev.Code, "reason", ev.Reason)
				// Teardown waits for this goroutine, so hand it off.
				go c.teardown(ev.Code, ev.Reason, true)
				return

			case transport.TransportError:
				c.logger.Error("transport error, ending conversation",
					"call_id", c.callID, "error", ev.Err)
				c.emitError(fmt.Sprintf("transport error: %v", ev.Err))
				go c.teardown(0, fmt.Sprintf("transport error: %v", ev.Err), true)
				return
			}
		}
	}
}

// StopConversation is the single cancellation point. It is safe to call
// at any time, from any goroutine, any number of times, including before
// or during StartConversation; all owned resources are released on every
// path and the lifecycle lands in a terminal state.
func (c *Conversation) StopConversation() {
	c.stopReq.Store(true)
	c.teardown(0, "", true)
}

// teardown releases everything exactly once and emits ConversationEnded
// when the call reached at least the connecting stage. Code and reason
// default to the transport's close values, or stay unset on a local stop.
func (c *Conversation) teardown(code int, reason string, emitEnded bool) {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true

	// An ended notification is only meaningful once a connection was at
	// least attempted; stops before that point end silently.
	preConnect := c.state == StateIdle || c.state == StateSettingUpAudio
	if !c.state.Terminal() {
		c.state = StateStopping
	}
	sess, pipe, monitor, src, sink := c.sess, c.pipe, c.monitor, c.src, c.sink
	c.sess, c.pipe, c.monitor, c.src, c.sink = nil, nil, nil, nil, nil
	c.calling.Store(false)
	c.mu.Unlock()

	// Keepalive timers first, so no post-teardown callback can touch a
	// torn-down session.
	if monitor != nil {
		monitor.Stop()
	}
	if pipe != nil {
		pipe.Stop()
	}
	if sess != nil {
		sess.Close()
	}
	if src != nil {
		src.Close()
	}
	if sink != nil {
		sink.Close()
	}

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = StateEnded
	}
	alreadyEnded := c.ended
	c.ended = true
	c.mu.Unlock()

	if emitEnded && !alreadyEnded && !preConnect {
		c.m.ConversationEnded()
		c.logger.Info("conversation ended", "call_id", c.callID, "code", code, "reason", reason)
		c.emit(ConversationEnded{Code: code, Reason: reason})
	}
}

// fail moves the lifecycle to Failed, surfaces the error exactly once
// and releases anything acquired so far.
func (c *Conversation) fail(err error) error {
	c.logger.Error("conversation setup failed", "call_id", c.callID, "error", err)

	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()

	c.emitError(err.Error())
	c.teardown(0, "", false)
	return err
}

// emitError surfaces a fatal condition once; later errors on the same
// conversation are logged but not re-emitted.
func (c *Conversation) emitError(msg string) {
	c.mu.Lock()
	already := c.errored
	c.errored = true
	c.mu.Unlock()

	if !already {
		c.emit(ErrorEvent{Message: msg})
	}
}

// sendPing is the keepalive monitor's probe hook.
func (c *Conversation) sendPing() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		sess.SendPing()
		c.m.PingSent()
	}
}

// onLivenessLost handles a keepalive double-timeout. By default it only
// notifies; tearing down is the caller's decision unless configured.
func (c *Conversation) onLivenessLost() {
	c.m.Disconnect()
	c.emit(Disconnect{})

	if c.cfg.EndOnLivenessLoss {
		go c.StopConversation()
	}
}

func (c *Conversation) onLivenessBack() {
	c.m.Reconnect()
	c.emit(Reconnect{})
}

// onCaptured runs in the audio context for every captured block. The
// worker pipeline streams unconditionally, so the calling gate lives
// here for that path; the polled pipeline is gated upstream as well.
func (c *Conversation) onCaptured(data []byte) {
	if !c.calling.Load() {
		return
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	sess.Send(data)
	c.m.FrameSent(len(data))

	n := c.capturedCount.Add(1)
	if n%audioLevelLogEvery == 1 {
		rmsDB, peak := pcm.RMSPeak(pcm.Decode(data))
		c.logger.Debug("capture audio level", "call_id", c.callID,
			"rms_db", fmt.Sprintf("%.1f", rmsDB), "peak", fmt.Sprintf("%.4f", peak), "chunk", n)
	}
}

func (c *Conversation) onAudioOut(data []byte) {
	c.emit(AudioEvent{Data: data})
}

func (c *Conversation) onStartTalking() {
	c.talking.Store(true)
	c.m.TalkingTransition()
	c.emit(AgentStartTalking{})
}

func (c *Conversation) onStopTalking() {
	c.talking.Store(false)
	c.m.TalkingTransition()
	c.emit(AgentStopTalking{})
}

// emit queues an event, dropping on a full queue (bounded backpressure).
func (c *Conversation) emit(ev Event) {
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Warn("event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// Events returns the public event channel.
func (c *Conversation) Events() <-chan Event {
	return c.eventCh
}

// State returns the current lifecycle state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CallID returns the identifier of this call.
func (c *Conversation) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// IsCalling reports whether the call is live and capture is flowing.
func (c *Conversation) IsCalling() bool {
	return c.calling.Load()
}

// IsTalking reports whether agent audio is currently playing out.
func (c *Conversation) IsTalking() bool {
	return c.talking.Load()
}
