package audioio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Initialize prepares the PortAudio host API. Call once at program start,
// before creating any PortAudio source or sink.
func Initialize() error {
	return portaudio.Initialize()
}

// Terminate releases the PortAudio host API. Call once at program exit.
func Terminate() error {
	return portaudio.Terminate()
}

// PortAudioSource captures from the default input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32
	running bool
	closed  bool
}

// NewPortAudioSource opens the default input device with the given config.
func NewPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &PortAudioSource{
		cfg:    cfg,
		logger: logger,
		buf:    make([]float32, cfg.BlockSize),
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.BlockSize, s.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	s.stream = stream

	logger.Info("opened portaudio input", "sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)
	return s, nil
}

// Start begins capture.
func (s *PortAudioSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	s.running = true
	return nil
}

// ReadBlock blocks until one full block has been captured.
func (s *PortAudioSource) ReadBlock(out []float32) error {
	s.mu.Lock()
	if !s.running || s.closed {
		s.mu.Unlock()
		return io.EOF
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Read(); err != nil {
		return fmt.Errorf("input stream read: %w", err)
	}

	copy(out, s.buf)
	return nil
}

// Stop halts capture.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.stream.Stop()
}

// Close releases the stream.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.running = false
	return s.stream.Close()
}

// PortAudioSink plays to the default output device.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32
	running bool
	closed  bool
}

// NewPortAudioSink opens the default output device with the given config.
func NewPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	k := &PortAudioSink{
		cfg:    cfg,
		logger: logger,
		buf:    make([]float32, cfg.BlockSize),
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(cfg.SampleRate), cfg.BlockSize, k.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	k.stream = stream

	logger.Info("opened portaudio output", "sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)
	return k, nil
}

// Start begins playback.
func (k *PortAudioSink) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return io.ErrClosedPipe
	}
	if k.running {
		return nil
	}
	if err := k.stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	k.running = true
	return nil
}

// WriteBlock plays one block, blocking at the device's pace.
func (k *PortAudioSink) WriteBlock(in []float32) error {
	k.mu.Lock()
	if !k.running || k.closed {
		k.mu.Unlock()
		return io.EOF
	}
	stream := k.stream
	k.mu.Unlock()

	copy(k.buf, in)
	if err := stream.Write(); err != nil {
		return fmt.Errorf("output stream write: %w", err)
	}
	return nil
}

// Stop halts playback.
func (k *PortAudioSink) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running {
		return nil
	}
	k.running = false
	return k.stream.Stop()
}

// Close releases the stream.
func (k *PortAudioSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	k.running = false
	return k.stream.Close()
}
