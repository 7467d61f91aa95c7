// Package ring implements a fixed-capacity multi-channel ring buffer for
// audio frames. A single producer (the capture callback) appends blocks; any
// number of readers may read recent history under the same lock.
package ring

import (
	"sync"
	"time"
)

// Buffer is a circular store of audio frames. Frame i has width Channels()
// float32 samples, one per channel, stored contiguously. The producer is the
// sole writer of pos and lastFrameTime; both are read atomically together
// under mu so readers never observe a torn (pos, lastFrameTime) pair.
type Buffer struct {
	mu            sync.Mutex
	data          []float32 // length = length*channels
	length        int       // capacity in frames
	channels      int
	pos           int // next frame index to be written, in [0, length)
	lastFrameTime float64
}

// New returns a Buffer holding length frames of the given channel count.
// length and channels must both be positive.
func New(length, channels int) *Buffer {
	if length <= 0 {
		length = 1
	}
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{
		data:     make([]float32, length*channels),
		length:   length,
		channels: channels,
	}
}

// Length returns the buffer's frame capacity.
func (b *Buffer) Length() int { return b.length }

// Channels returns the configured channel count.
func (b *Buffer) Channels() int { return b.channels }

// Write appends block (a flat slice of frames*channels samples) and records
// capturedAt as the absolute UTC instant of the block's last frame. It must
// be callable from a real-time audio callback: it allocates nothing and
// holds the lock only across the copy.
func (b *Buffer) Write(block []float32, capturedAt time.Time) {
	if len(block) == 0 {
		return
	}
	frames := len(block) / b.channels

	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.pos + frames
	if end <= b.length {
		copy(b.data[b.pos*b.channels:end*b.channels], block)
	} else {
		split := b.length - b.pos
		copy(b.data[b.pos*b.channels:], block[:split*b.channels])
		copy(b.data[:(frames-split)*b.channels], block[split*b.channels:])
	}

	b.pos = (b.pos + frames) % b.length
	b.lastFrameTime = float64(capturedAt.UnixNano()) / 1e9
}

// Snapshot atomically returns the current write cursor and the absolute
// capture time of the most recently written frame.
func (b *Buffer) Snapshot() (pos int, lastFrameTime float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos, b.lastFrameTime
}

// Read returns the last n frames ending at pos, as a flat []float32 of
// n*channels samples. A nil n returns the length-1 most recent frames. n is
// clamped to [0, length-1].
func (b *Buffer) Read(n *int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.length - 1
	if n != nil {
		frames = *n
	}
	if frames > b.length-1 {
		frames = b.length - 1
	}
	if frames < 0 {
		frames = 0
	}
	return b.readLocked(b.pos-frames, b.pos)
}

// Slice returns the frames in the half-open interval [pos+startOffset,
// pos+endOffset) mod length. Both offsets must be <= 0; the caller is
// responsible for pre-clamping them to [-(length-1), 0]. start==end yields
// an empty (non-nil) slice.
func (b *Buffer) Slice(startOffset, endOffset int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(b.pos+startOffset, b.pos+endOffset)
}

// readLocked returns frames [start, end) mod length, concatenating across
// the wrap point when necessary. Caller must hold mu.
func (b *Buffer) readLocked(start, end int) []float32 {
	start = mod(start, b.length)
	end = mod(end, b.length)

	if start == end {
		return []float32{}
	}
	if start < end {
		out := make([]float32, (end-start)*b.channels)
		copy(out, b.data[start*b.channels:end*b.channels])
		return out
	}

	tail := b.length - start
	out := make([]float32, (tail+end)*b.channels)
	copy(out, b.data[start*b.channels:])
	copy(out[tail*b.channels:], b.data[:end*b.channels])
	return out
}

func mod(x, m int) int {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
