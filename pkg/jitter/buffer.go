// Package jitter implements the playback buffer that absorbs arrival-timing
// variance between network delivery and steady-rate audio consumption.
package jitter

// Buffer is an ordered FIFO of decoded sample chunks plus a read cursor
// into the head chunk. The playback side pulls samples out at the audio
// clock rate; the transport side pushes decoded frames in as they arrive.
//
// Buffer is NOT safe for concurrent use. Push and pull must be serialized
// onto the single audio-processing context; transport-side pushes are
// marshaled there through the pipeline's bounded hand-off channel.
type Buffer struct {
	chunks [][]float32
	cursor int // read position into chunks[0]
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Push appends a decoded sample chunk to the tail. Empty chunks are ignored.
func (b *Buffer) Push(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
}

// PullInto fills out sample-by-sample from the head chunk, advancing the
// cursor and popping exhausted chunks. Once the buffer runs dry the rest
// of out is written as silence.
func (b *Buffer) PullInto(out []float32) {
	for i := range out {
		if len(b.chunks) == 0 {
			out[i] = 0
			continue
		}
		head := b.chunks[0]
		out[i] = head[b.cursor]
		b.cursor++
		if b.cursor >= len(head) {
			b.chunks = b.chunks[1:]
			b.cursor = 0
		}
	}
}

// Clear drops all pending chunks and resets the cursor. It reports whether
// playback audio was pending beforehand, which drives the stop-talking
// transition on an explicit clear control message.
func (b *Buffer) Clear() bool {
	wasActive := len(b.chunks) > 0
	b.chunks = nil
	b.cursor = 0
	return wasActive
}

// Empty reports whether no samples remain.
func (b *Buffer) Empty() bool {
	return len(b.chunks) == 0
}

// Len returns the number of buffered samples still to be played.
func (b *Buffer) Len() int {
	n := 0
	for i, c := range b.chunks {
		n += len(c)
		if i == 0 {
			n -= b.cursor
		}
	}
	return n
}
