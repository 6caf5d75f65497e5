package playback

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// PCM format shared by every tap, clone and recognizer: s16le mono 16kHz
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

// DefaultReadyTimeout bounds the wait for a resource to become ready
const DefaultReadyTimeout = 10 * time.Second

// ErrTapAlreadyAttached is returned by AttachTap on every call after the first
var ErrTapAlreadyAttached = errors.New("resource already attached to an audio tap")

// Resource is the user-visible playback element
type Resource interface {
	Source() string
	CurrentTime() float64
	// Seek is a silent no-op while the resource is not ready
	Seek(position float64) error
	Play(ctx context.Context) error
	Pause() error
	IsPaused() bool
	IsReady() bool
	// Ready returns a channel closed once the resource is ready
	Ready() <-chan struct{}
	// AttachTap succeeds at most once per resource lifetime
	AttachTap() (Tap, error)
	// Clone returns a disposable, muted copy of the resource
	Clone() (Clone, error)
}

// Frame is a chunk of PCM audio starting at Position seconds of media time
type Frame struct {
	Position float64
	PCM      []byte
}

// End returns the media time right after the frame
func (f Frame) End() float64 {
	return f.Position + float64(len(f.PCM))/BytesPerSecond
}

// Tap delivers the audio a resource is playing
type Tap interface {
	// Subscribe returns a frame channel and a func that detaches it.
	// The channel is closed after unsubscribe.
	Subscribe() (<-chan Frame, func())
}

// Clone records a window of a resource without touching the visible playback
type Clone interface {
	// Record returns a WAV payload covering the window
	Record(ctx context.Context, window model.PlaybackWindow) ([]byte, error)
	Close() error
}

// WaitReady blocks until r is ready, ctx ends or timeout elapses
func WaitReady(ctx context.Context, r Resource, timeout time.Duration) error {
	if r.IsReady() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.Ready():
		return nil
	case <-timer.C:
		return apperrors.New(apperrors.CodePlaybackFailed, "resource did not become ready within "+timeout.String())
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "waiting for resource to become ready")
	}
}
