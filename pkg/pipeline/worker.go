package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/echowire/echowire-go/pkg/audioio"
	"github.com/echowire/echowire-go/pkg/pcm"
)

// RealtimeWorker runs capture and playback inside one continuously
// running goroutine. Every tick it emits the captured block as an
// outbound PCM chunk and synchronously drains the jitter buffer into the
// current output block. Pacing comes from the blocking device reads and
// writes themselves.
//
// The worker has no view of the session's calling flag: once started it
// streams unconditionally, and the controller gates what it does with
// the captured chunks.
type RealtimeWorker struct {
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

// NewRealtimeWorker creates the worker variant.
func NewRealtimeWorker(cfg Config, src audioio.Source, sink audioio.Sink, hooks Hooks) *RealtimeWorker {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultWorkerBlockSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RealtimeWorker{
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

// Start begins the processing loop.
func (w *RealtimeWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return nil
	}
	w.started = true

	if err := w.src.Start(); err != nil {
		return err
	}
	if err := w.sink.Start(); err != nil {
		w.src.Stop()
		return err
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *RealtimeWorker) run() {
	defer w.wg.Done()

	in := make([]float32, w.cfg.BlockSize)
	out := make([]float32, w.cfg.BlockSize)

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		// Apply queued control messages in arrival order before the tick.
		for {
			select {
			case c := <-w.ctrlCh:
				w.pb.apply(c)
				continue
			default:
			}
			break
		}

		if err := w.src.ReadBlock(in); err != nil {
			w.logger.Debug("worker capture ended", "error", err)
			return
		}

		if w.hooks.OnCaptured != nil {
			w.hooks.OnCaptured(pcm.Encode(in))
		}

		w.pb.drainInto(out)

		if err := w.sink.WriteBlock(out); err != nil {
			w.logger.Debug("worker playback ended", "error", err)
			return
		}
	}
}

// PushPlayback marshals a decoded chunk onto the processing goroutine.
// Chunks are droppable under backpressure; one queue slot always stays
// reserved so a clear request cannot be crowded out.
func (w *RealtimeWorker) PushPlayback(samples []float32) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}
	if len(w.ctrlCh) >= cap(w.ctrlCh)-1 {
		w.logger.Warn("playback queue full, dropping chunk", "samples", len(samples))
		return
	}
	w.ctrlCh <- control{chunk: samples}
}

// Clear marshals a buffer-flush request, ordered after pending pushes.
// Unlike audio chunks a clear is never dropped: the reserved queue slot
// makes room, and the send waits out the rare multi-clear backlog.
func (w *RealtimeWorker) Clear() {
	select {
	case w.ctrlCh <- control{clear: true}:
	case <-w.ctx.Done():
	}
}

// Stop halts the loop and stops the devices. Safe to call multiple times.
func (w *RealtimeWorker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	// Stopping the devices unblocks any in-flight read or write.
	w.src.Stop()
	w.sink.Stop()
	w.wg.Wait()
	return nil
}
