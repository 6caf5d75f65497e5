package transcription

import (
	"context"
	"time"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
)

// CaptureRequest describes one capture: which resource, which window, which language hint
type CaptureRequest struct {
	Resource     playback.Resource
	Window       model.PlaybackWindow
	LanguageHint string // "auto" or ISO 639-1
	// ReadyTimeout bounds waits for Resource to become ready; 0 means the default
	ReadyTimeout time.Duration
}

// CaptureStrategy turns a window of a playback resource into text
type CaptureStrategy interface {
	// Method identifies the strategy
	Method() model.TranscriptionMethod
	// Validate checks prerequisites without touching playback
	Validate() error
	// Capture transcribes req.Window; every session resource is released before it returns
	Capture(ctx context.Context, req CaptureRequest) (*model.TranscriptionResult, error)
}

// hintOrAuto returns the hint when it names a language, "auto" otherwise
func hintOrAuto(hint string) string {
	if hint == "" {
		return model.LanguageAuto
	}
	return hint
}
