// Package pcm converts between the wire audio format (interleaved
// little-endian signed 16-bit PCM, mono) and the normalized float32
// sample representation used by the audio pipeline.
package pcm

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the wire size of one PCM16 sample.
const BytesPerSample = 2

// Decode converts little-endian PCM16 bytes to float32 samples in [-1.0, 1.0).
// A trailing odd byte is a malformed partial sample and is silently
// truncated; this is best-effort by contract, never an error.
func Decode(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// Encode converts float32 samples to little-endian PCM16 bytes.
// Samples are scaled by 32768 and truncated to int16. Out-of-range input
// is NOT clamped first: values beyond [-1.0, 1.0) wrap per signed 16-bit
// conversion rules. Callers that need clamping do it upstream.
func Encode(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := int16(int32(s * 32768.0))
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(v))
	}
	return data
}

// RMSPeak returns the RMS level in dBFS and the absolute peak of a sample
// block. Used for periodic audio-level logging on the capture path.
func RMSPeak(samples []float32) (rmsDB float64, peak float32) {
	if len(samples) == 0 {
		return -999, 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms > 0 {
		rmsDB = 20 * math.Log10(rms)
	} else {
		rmsDB = -999
	}
	return rmsDB, peak
}
