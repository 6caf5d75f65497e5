package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

// seekTolerance is how far CurrentTime may drift from a seek target and still count as applied
const seekTolerance = 0.25

// Snapshot is the play/pause state and position recorded at cycle entry
type Snapshot struct {
	WasPlaying bool    `json:"was_playing"`
	Position   float64 `json:"position"`
}

// CaptureState records r's current play state and position
func CaptureState(r Resource) Snapshot {
	return Snapshot{
		WasPlaying: !r.IsPaused(),
		Position:   r.CurrentTime(),
	}
}

// Guard restores a resource to its recorded state exactly once
type Guard struct {
	resource     Resource
	snapshot     Snapshot
	readyTimeout time.Duration

	once sync.Once
	err  error
}

// NewGuard captures the state of r
func NewGuard(r Resource, readyTimeout time.Duration) *Guard {
	return &Guard{
		resource:     r,
		snapshot:     CaptureState(r),
		readyTimeout: readyTimeout,
	}
}

// Snapshot returns the state recorded at construction
func (g *Guard) Snapshot() Snapshot {
	return g.snapshot
}

// Restore seeks back to the recorded position and resumes if it was playing
func (g *Guard) Restore(ctx context.Context) error {
	return g.RestoreTo(ctx, g.snapshot.Position)
}

// RestoreTo is Restore with a different target position.
// Only the first Restore or RestoreTo call has any effect.
func (g *Guard) RestoreTo(ctx context.Context, position float64) error {
	g.once.Do(func() {
		g.err = g.restore(ctx, position)
	})
	return g.err
}

func (g *Guard) restore(ctx context.Context, position float64) error {
	if err := SeekAndVerify(ctx, g.resource, position, g.readyTimeout); err != nil {
		// Still honour the play state so a failed seek does not leave the listener paused
		if g.snapshot.WasPlaying {
			_ = g.resource.Play(ctx)
		}
		return err
	}
	if g.snapshot.WasPlaying {
		if err := g.resource.Play(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to resume playback")
		}
	}
	return nil
}

// SeekAndVerify waits for r to be ready, seeks and checks the seek took effect
func SeekAndVerify(ctx context.Context, r Resource, position float64, readyTimeout time.Duration) error {
	if err := WaitReady(ctx, r, readyTimeout); err != nil {
		return err
	}
	if err := r.Seek(position); err != nil {
		return apperrors.Wrap(err, apperrors.CodePlaybackFailed, fmt.Sprintf("failed to seek to %.2fs", position))
	}
	if got := r.CurrentTime(); math.Abs(got-position) > seekTolerance {
		return apperrors.New(apperrors.CodePlaybackFailed,
			fmt.Sprintf("seek to %.2fs was not applied (position is %.2fs)", position, got))
	}
	return nil
}
