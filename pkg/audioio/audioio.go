// Package audioio abstracts host audio capture and playback behind block
// oriented Source and Sink interfaces.
//
// Two backends are provided:
//   - PortAudio: real microphone and speaker devices
//   - Mock: synthetic audio for tests and CI without hardware
//
// All audio is mono float32 in [-1.0, 1.0] at the configured sample rate.
package audioio

import "fmt"

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture.
	Start() error

	// ReadBlock fills out with the next captured block, blocking until a
	// full block is available. Returns an error once the source is stopped.
	ReadBlock(out []float32) error

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Close releases all resources. The source cannot be restarted.
	Close() error
}

// Sink plays audio to a speaker or other output device.
type Sink interface {
	// Start begins audio playback.
	Start() error

	// WriteBlock sends one block to the output device. This may block
	// until the device has drained enough of its buffer.
	WriteBlock(in []float32) error

	// Stop halts playback. Safe to call multiple times.
	Stop() error

	// Close releases all resources. The sink cannot be restarted.
	Close() error
}

// Config holds audio device configuration.
type Config struct {
	SampleRate int // samples per second, e.g. 24000
	BlockSize  int // samples per block
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	return nil
}
