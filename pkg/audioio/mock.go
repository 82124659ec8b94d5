package audioio

import (
	"io"
	"math"
	"sync"
	"time"
)

// MockSource is a synthetic audio source for tests: silence by default,
// or a sine wave. When paced, blocks are delivered at the real-time rate
// implied by the sample rate; unpaced sources deliver as fast as callers
// read, which keeps unit tests quick.
type MockSource struct {
	cfg       Config
	paced     bool
	frequency float64 // Hz, 0 = silence
	amplitude float64

	mu      sync.Mutex
	running bool
	closed  bool
	phase   float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithPacing makes block delivery track the real-time audio clock.
func WithPacing() MockSourceOption {
	return func(m *MockSource) {
		m.paced = true
	}
}

// NewMockSource creates a mock source.
func NewMockSource(cfg Config, opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		cfg:       cfg,
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generation.
func (m *MockSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// ReadBlock fills out with synthetic audio.
func (m *MockSource) ReadBlock(out []float32) error {
	m.mu.Lock()
	if !m.running || m.closed {
		m.mu.Unlock()
		return io.EOF
	}
	for i := range out {
		if m.frequency == 0 {
			out[i] = 0
			continue
		}
		out[i] = float32(m.amplitude * math.Sin(m.phase))
		m.phase += 2 * math.Pi * m.frequency / float64(m.cfg.SampleRate)
		if m.phase > 2*math.Pi {
			m.phase -= 2 * math.Pi
		}
	}
	paced := m.paced
	m.mu.Unlock()

	if paced {
		time.Sleep(time.Duration(len(out)) * time.Second / time.Duration(m.cfg.SampleRate))
	}
	return nil
}

// Stop halts generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Close releases the source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// MockSink records written blocks for inspection in tests.
type MockSink struct {
	cfg   Config
	paced bool

	mu      sync.Mutex
	running bool
	closed  bool
	blocks  [][]float32
}

// NewMockSink creates a mock sink. When paced is true, writes block at
// the real-time rate like a device buffer would.
func NewMockSink(cfg Config, paced bool) *MockSink {
	return &MockSink{cfg: cfg, paced: paced}
}

// Start begins accepting writes.
func (m *MockSink) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// WriteBlock records one block.
func (m *MockSink) WriteBlock(in []float32) error {
	m.mu.Lock()
	if !m.running || m.closed {
		m.mu.Unlock()
		return io.EOF
	}
	block := make([]float32, len(in))
	copy(block, in)
	m.blocks = append(m.blocks, block)
	paced := m.paced
	m.mu.Unlock()

	if paced {
		time.Sleep(time.Duration(len(in)) * time.Second / time.Duration(m.cfg.SampleRate))
	}
	return nil
}

// Blocks returns a copy of all recorded blocks.
func (m *MockSink) Blocks() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// Samples returns all recorded samples concatenated.
func (m *MockSink) Samples() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float32
	for _, b := range m.blocks {
		out = append(out, b...)
	}
	return out
}

// Stop halts writes.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Close releases the sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}
