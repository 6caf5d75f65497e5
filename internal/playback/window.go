package playback

import (
	"math"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// DefaultRewindSeconds is the fixed rewind window
const DefaultRewindSeconds = 15.0

// CalculateWindow returns the window ending at position and reaching back rewind seconds.
// Positions shorter than the rewind yield a shorter window instead of an error.
func CalculateWindow(position, rewind float64) model.PlaybackWindow {
	if position < 0 || math.IsNaN(position) {
		position = 0
	}
	if rewind <= 0 || math.IsNaN(rewind) {
		rewind = DefaultRewindSeconds
	}

	start := math.Max(0, position-rewind)
	return model.PlaybackWindow{
		StartTime: start,
		EndTime:   position,
		Duration:  position - start,
	}
}
