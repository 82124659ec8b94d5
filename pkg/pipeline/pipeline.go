// Package pipeline moves audio between the host devices, the wire codec
// and the jitter buffer. Two interchangeable variants exist: a dedicated
// low-latency worker goroutine, and a polled block processor driven by
// the host audio clock. The variant is selected once at setup by an
// injected capability probe.
package pipeline

import (
	"github.com/echowire/echowire-go/pkg/audioio"
	"github.com/echowire/echowire-go/pkg/jitter"
)

// Nominal block sizes in samples. The polled path mirrors the classic
// fixed 2048-sample processing callback; the worker path runs smaller
// blocks for lower latency.
const (
	DefaultWorkerBlockSize = 512
	DefaultPolledBlockSize = 2048
)

// Hooks connect a pipeline to the session controller. All hooks are
// invoked from the audio-processing context; they must not block.
type Hooks struct {
	// OnCaptured receives each captured block encoded as wire PCM16.
	// The worker variant calls it unconditionally once started; the
	// polled variant only while IsCalling reports true.
	OnCaptured func(pcm []byte)

	// OnAudioOut receives the filled playback block re-encoded as PCM16,
	// for visualization. Polled variant only.
	OnAudioOut func(pcm []byte)

	// OnStartTalking / OnStopTalking report buffer-occupancy hysteresis
	// transitions: start fires when playback audio becomes available
	// while previously empty, stop when the buffer drains to empty or is
	// cleared.
	OnStartTalking func()
	OnStopTalking  func()

	// IsCalling gates capture on the polled path.
	IsCalling func() bool

	// OnBufferDepth reports the playback buffer occupancy in samples
	// after each control application and drain. Optional.
	OnBufferDepth func(samples int)
}

// Pipeline is the capability contract shared by both variants.
type Pipeline interface {
	// Start wires the source and sink and begins processing.
	Start() error

	// PushPlayback hands a decoded inbound chunk to the playback side.
	// Safe to call from the transport context: the chunk is marshaled
	// onto the audio context through an ordered hand-off queue.
	PushPlayback(samples []float32)

	// Clear drops all pending playback audio, forcing a stop-talking
	// transition if audio was playing. Ordered with respect to pushes.
	Clear()

	// Stop halts processing and stops the source and sink. Idempotent.
	Stop() error
}

// CapabilityProbe reports whether the host supports the dedicated
// low-latency worker path. Injected at setup rather than sniffed at
// runtime.
type CapabilityProbe func() bool

// Config holds pipeline configuration.
type Config struct {
	BlockSize int // samples per processing block; 0 selects the variant default
}

// New selects a variant via the probe and constructs it.
func New(probe CapabilityProbe, cfg Config, src audioio.Source, sink audioio.Sink, hooks Hooks) Pipeline {
	if probe != nil && probe() {
		return NewRealtimeWorker(cfg, src, sink, hooks)
	}
	return NewPolledProcessor(cfg, src, sink, hooks)
}

// control is one ordered hand-off message into the audio context:
// either a playback chunk or a clear request.
type control struct {
	chunk []float32
	clear bool
}

// playback is the audio-context-only state shared by both variants: the
// jitter buffer and the talking-state hysteresis around it. Never touched
// outside the processing goroutine.
type playback struct {
	buf     *jitter.Buffer
	hooks   Hooks
	talking bool
}

func newPlayback(hooks Hooks) *playback {
	return &playback{buf: jitter.New(), hooks: hooks}
}

// apply consumes one control message in arrival order.
func (p *playback) apply(c control) {
	if c.clear {
		wasActive := p.buf.Clear()
		if wasActive && p.talking {
			p.talking = false
			if p.hooks.OnStopTalking != nil {
				p.hooks.OnStopTalking()
			}
		}
		p.reportDepth()
		return
	}

	p.buf.Push(c.chunk)
	if !p.talking && !p.buf.Empty() {
		p.talking = true
		if p.hooks.OnStartTalking != nil {
			p.hooks.OnStartTalking()
		}
	}
	p.reportDepth()
}

// drainInto fills out from the jitter buffer and evaluates the
// drained-to-empty side of the hysteresis.
func (p *playback) drainInto(out []float32) {
	p.buf.PullInto(out)
	if p.talking && p.buf.Empty() {
		p.talking = false
		if p.hooks.OnStopTalking != nil {
			p.hooks.OnStopTalking()
		}
	}
	p.reportDepth()
}

func (p *playback) reportDepth() {
	if p.hooks.OnBufferDepth != nil {
		p.hooks.OnBufferDepth(p.buf.Len())
	}
}
