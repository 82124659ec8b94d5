package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echowire/echowire-go/pkg/audioio"
)

func TestWorkerStreamsUnconditionally(t *testing.T) {
	cfg := audioio.Config{SampleRate: 48000, BlockSize: 480} // 10ms blocks
	src := audioio.NewMockSource(cfg, audioio.WithPacing())
	sink := audioio.NewMockSink(cfg, false)

	var captured atomic.Int32

	// No IsCalling hook: the worker must stream regardless.
	w := NewRealtimeWorker(Config{BlockSize: 480}, src, sink, Hooks{
		OnCaptured: func([]byte) { captured.Add(1) },
	})

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for captured.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if captured.Load() < 3 {
		t.Errorf("expected at least 3 captured blocks, got %d", captured.Load())
	}
}

func TestWorkerPlaysPushedAudio(t *testing.T) {
	cfg := audioio.Config{SampleRate: 48000, BlockSize: 480}
	src := audioio.NewMockSource(cfg, audioio.WithPacing())
	sink := audioio.NewMockSink(cfg, false)

	var mu sync.Mutex
	var starts, stops int

	w := NewRealtimeWorker(Config{BlockSize: 480}, src, sink, Hooks{
		OnStartTalking: func() { mu.Lock(); starts++; mu.Unlock() },
		OnStopTalking:  func() { mu.Lock(); stops++; mu.Unlock() },
	})

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	chunk := make([]float32, 960) // two blocks worth
	for i := range chunk {
		chunk[i] = 0.5
	}
	w.PushPlayback(chunk)

	// Wait until the pushed audio has fully played out.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := stops >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	if starts != 1 {
		t.Errorf("start transitions: got %d, want 1", starts)
	}
	if stops != 1 {
		t.Errorf("stop transitions: got %d, want 1", stops)
	}

	// The pushed samples must appear in the sink output in order.
	samples := sink.Samples()
	found := 0
	for _, s := range samples {
		if s == 0.5 {
			found++
		}
	}
	if found != 960 {
		t.Errorf("played samples: got %d, want 960", found)
	}
}

func TestWorkerClearDropsPendingAudio(t *testing.T) {
	cfg := audioio.Config{SampleRate: 48000, BlockSize: 480}
	src := audioio.NewMockSource(cfg, audioio.WithPacing())
	sink := audioio.NewMockSink(cfg, false)

	var stops atomic.Int32

	w := NewRealtimeWorker(Config{BlockSize: 480}, src, sink, Hooks{
		OnStopTalking: func() { stops.Add(1) },
	})

	// Queue audio and a clear before the worker starts: the clear is
	// ordered after the push, so nothing should reach the sink.
	w.PushPlayback(make([]float32, 48000))
	w.Clear()

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	for _, s := range sink.Samples() {
		if s != 0 {
			t.Fatal("cleared audio reached the sink")
		}
	}
	if stops.Load() != 1 {
		t.Errorf("stop transitions from clear: got %d, want 1", stops.Load())
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	cfg := audioio.Config{SampleRate: 48000, BlockSize: 480}
	src := audioio.NewMockSource(cfg, audioio.WithPacing())
	sink := audioio.NewMockSink(cfg, false)

	w := NewRealtimeWorker(Config{}, src, sink, Hooks{})
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestProbeSelectsVariant(t *testing.T) {
	cfg := audioio.Config{SampleRate: 24000, BlockSize: 512}
	src := audioio.NewMockSource(cfg)
	sink := audioio.NewMockSink(cfg, false)

	p := New(func() bool { return true }, Config{}, src, sink, Hooks{})
	if _, ok := p.(*RealtimeWorker); !ok {
		t.Errorf("probe true: got %T, want *RealtimeWorker", p)
	}

	p = New(func() bool { return false }, Config{}, src, sink, Hooks{})
	if _, ok := p.(*PolledProcessor); !ok {
		t.Errorf("probe false: got %T, want *PolledProcessor", p)
	}

	p = New(nil, Config{}, src, sink, Hooks{})
	if _, ok := p.(*PolledProcessor); !ok {
		t.Errorf("nil probe: got %T, want *PolledProcessor", p)
	}
}

func TestWorkerClearSurvivesFullQueue(t *testing.T) {
	cfg := audioio.Config{SampleRate: 48000, BlockSize: 480}
	src := audioio.NewMockSource(cfg, audioio.WithPacing())
	sink := audioio.NewMockSink(cfg, false)

	var starts, stops atomic.Int32

	w := NewRealtimeWorker(Config{BlockSize: 480}, src, sink, Hooks{
		OnStartTalking: func() { starts.Add(1) },
		OnStopTalking:  func() { stops.Add(1) },
	})

	// Saturate the hand-off queue before the worker runs. Excess chunks
	// are dropped, but the barge-in clear must still get through.
	chunk := make([]float32, 480)
	for i := range chunk {
		chunk[i] = 0.5
	}
	for i := 0; i < cap(w.ctrlCh)+100; i++ {
		w.PushPlayback(chunk)
	}
	w.Clear()

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.Blocks()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	for _, s := range sink.Samples() {
		if s != 0 {
			t.Fatal("expected silence after clear, got audio")
		}
	}
	if starts.Load() != 1 || stops.Load() != 1 {
		t.Fatalf("expected one start and one stop transition, got %d/%d",
			starts.Load(), stops.Load())
	}
}
