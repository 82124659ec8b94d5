package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/echowire/echowire-go/pkg/audioio"
	"github.com/echowire/echowire-go/pkg/pcm"
)

// PolledProcessor is the fallback variant: a fixed-size block callback
// driven by the host's audio clock. Each callback captures one input
// block (gated by the session's calling flag), fills the output block
// from the jitter buffer, and re-encodes the filled block as a local
// audio event for visualizations. Talking hysteresis is evaluated once
// per block.
type PolledProcessor struct {
	cfg    Config
	src    audioio.Source
	sink   audioio.Sink
	hooks  Hooks
	pb     *playback
	ctrlCh chan control
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPolledProcessor creates the polled variant.
func NewPolledProcessor(cfg Config, src audioio.Source, sink audioio.Sink, hooks Hooks) *PolledProcessor {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultPolledBlockSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PolledProcessor{
		cfg:    cfg,
		src:    src,
		sink:   sink,
		hooks:  hooks,
		pb:     newPlayback(hooks),
		ctrlCh: make(chan control, 512), // Ordered hand-off queue
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins polling the source at the host audio clock's pace.
func (p *PolledProcessor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return nil
	}
	p.started = true

	if err := p.src.Start(); err != nil {
		return err
	}
	if err := p.sink.Start(); err != nil {
		p.src.Stop()
		return err
	}

	p.wg.Add(1)
	go p.run()
	return nil
}

func (p *PolledProcessor) run() {
	defer p.wg.Done()

	in := make([]float32, p.cfg.BlockSize)
	out := make([]float32, p.cfg.BlockSize)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if err := p.src.ReadBlock(in); err != nil {
			p.logger.Debug("polled capture ended", "error", err)
			return
		}

		p.ProcessBlock(in, out)

		if err := p.sink.WriteBlock(out); err != nil {
			p.logger.Debug("polled playback ended", "error", err)
			return
		}
	}
}

// ProcessBlock runs one block callback: capture (gated), playback fill,
// local audio emission. Exported so a host with its own audio clock can
// drive the processor directly instead of through Start.
func (p *PolledProcessor) ProcessBlock(in, out []float32) {
	// Apply queued control messages in arrival order.
	for {
		select {
		case c := <-p.ctrlCh:
			p.pb.apply(c)
			continue
		default:
		}
		break
	}

	calling := p.hooks.IsCalling != nil && p.hooks.IsCalling()

	if calling && p.hooks.OnCaptured != nil {
		p.hooks.OnCaptured(pcm.Encode(in))
	}

	// Playback drain always runs, even after hangup, so stale buffered
	// audio drains instead of being retained.
	p.pb.drainInto(out)

	if calling && p.hooks.OnAudioOut != nil {
		p.hooks.OnAudioOut(pcm.Encode(out))
	}
}

// PushPlayback marshals a decoded chunk onto the audio context.
// Chunks are droppable under backpressure; one queue slot always stays
// reserved so a clear request cannot be crowded out.
func (p *PolledProcessor) PushPlayback(samples []float32) {
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	if len(p.ctrlCh) >= cap(p.ctrlCh)-1 {
		p.logger.Warn("playback queue full, dropping chunk", "samples", len(samples))
		return
	}
	p.ctrlCh <- control{chunk: samples}
}

// Clear marshals a buffer-flush request, ordered after pending pushes.
// Unlike audio chunks a clear is never dropped: the reserved queue slot
// makes room, and the send waits out the rare multi-clear backlog.
func (p *PolledProcessor) Clear() {
	select {
	case p.ctrlCh <- control{clear: true}:
	case <-p.ctx.Done():
	}
}

// Stop halts the loop and stops the devices. Safe to call multiple times.
func (p *PolledProcessor) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.src.Stop()
	p.sink.Stop()
	p.wg.Wait()
	return nil
}
