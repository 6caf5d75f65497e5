package playback

import (
	"context"
	"math"
	"sync"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// continuityTolerance is the largest gap between frames still treated as contiguous
const continuityTolerance = 0.05

// RollingBuffer keeps the most recent audio heard through a tap.
// A seek (a frame that does not follow the previous one) starts a new run.
type RollingBuffer struct {
	mu       sync.Mutex
	capacity int // bytes
	pcm      []byte
	start    float64 // media time of pcm[0]
}

// NewRollingBuffer creates a buffer holding up to seconds of audio
func NewRollingBuffer(seconds float64) *RollingBuffer {
	capacity := int(seconds*BytesPerSecond) &^ (BytesPerSample - 1)
	return &RollingBuffer{capacity: capacity}
}

// Run consumes frames from tap until ctx is done
func (b *RollingBuffer) Run(ctx context.Context, tap Tap) {
	frames, unsubscribe := tap.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			b.Append(frame)
		}
	}
}

// Append adds a frame, dropping the oldest audio beyond capacity
func (b *RollingBuffer) Append(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.start + float64(len(b.pcm))/BytesPerSecond
	if len(b.pcm) == 0 || math.Abs(frame.Position-end) > continuityTolerance {
		b.pcm = b.pcm[:0]
		b.start = frame.Position
	}
	b.pcm = append(b.pcm, frame.PCM...)

	if over := len(b.pcm) - b.capacity; over > 0 {
		over += over % BytesPerSample
		b.pcm = append(b.pcm[:0], b.pcm[over:]...)
		b.start += float64(over) / BytesPerSecond
	}
}

// Covers reports whether the buffer holds the whole window
func (b *RollingBuffer) Covers(window model.PlaybackWindow) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.covers(window)
}

func (b *RollingBuffer) covers(window model.PlaybackWindow) bool {
	if len(b.pcm) == 0 {
		return false
	}
	end := b.start + float64(len(b.pcm))/BytesPerSecond
	return window.StartTime >= b.start-continuityTolerance && window.EndTime <= end+continuityTolerance
}

// Window returns a WAV payload for window; ok is false if the buffer does not cover it
func (b *RollingBuffer) Window(window model.PlaybackWindow) (payload []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.covers(window) {
		return nil, false
	}

	from := byteOffset(window.StartTime - b.start)
	to := byteOffset(window.EndTime - b.start)
	if from < 0 {
		from = 0
	}
	if to > len(b.pcm) {
		to = len(b.pcm)
	}
	if to <= from {
		return nil, false
	}

	pcm := make([]byte, to-from)
	copy(pcm, b.pcm[from:to])
	return EncodeWAV(pcm, SampleRate, Channels), true
}

func byteOffset(seconds float64) int {
	return int(seconds*BytesPerSecond) &^ (BytesPerSample - 1)
}
