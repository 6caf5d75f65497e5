package transcription

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
)

// defaultStopGrace bounds the wait for the recognizer to end after a stop request
const defaultStopGrace = 3 * time.Second

// LocalCapture transcribes by playing the window audibly on the shared resource
// and feeding the persistent tap into an on-device recognizer.
//
// Recognizers of this kind are tuned for live microphone speech and are
// unreliable on produced program audio; callers should tell the listener so.
type LocalCapture struct {
	recognizer Recognizer
	taps       *playback.TapHolder
	logger     *zap.SugaredLogger
	stopGrace  time.Duration
}

// NewLocalCapture creates a LocalCapture that reuses the tap held by taps
func NewLocalCapture(recognizer Recognizer, taps *playback.TapHolder, logger *zap.SugaredLogger) *LocalCapture {
	return &LocalCapture{
		recognizer: recognizer,
		taps:       taps,
		logger:     logger,
		stopGrace:  defaultStopGrace,
	}
}

func (c *LocalCapture) Method() model.TranscriptionMethod {
	return model.MethodLocal
}

func (c *LocalCapture) Validate() error {
	if c.recognizer == nil {
		return apperrors.New(apperrors.CodeUnsupportedCapability, "no speech recognizer available")
	}
	if c.taps == nil {
		return apperrors.New(apperrors.CodeMissingConfiguration, "local capture has no audio tap owner")
	}
	return c.recognizer.Available()
}

// Capture plays req.Window on req.Resource and collects finalized fragments
func (c *LocalCapture) Capture(ctx context.Context, req CaptureRequest) (*model.TranscriptionResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	tap, err := c.taps.Acquire()
	if err != nil {
		return nil, err
	}
	frames, unsubscribe := tap.Subscribe()
	defer unsubscribe()

	session, err := c.recognizer.Start(ctx, frames, req.LanguageHint)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "failed to start speech recognition")
	}
	defer session.Close()
	defer req.Resource.Pause()

	if err := playback.SeekAndVerify(ctx, req.Resource, req.Window.StartTime, req.ReadyTimeout); err != nil {
		return nil, err
	}
	if err := req.Resource.Play(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to play segment")
	}

	c.logger.Debugw("local recognition started",
		"start", req.Window.StartTime, "duration", req.Window.Duration, "language", req.LanguageHint)

	fragments, err := c.collect(ctx, session, req.Window.Length())
	text := strings.Join(fragments, " ")
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNoSpeechDetected) && text != "" {
			c.logger.Infow("no-speech signal after partial transcript, keeping it", "fragments", len(fragments))
			err = nil
		} else {
			return nil, err
		}
	}
	if text == "" {
		return nil, apperrors.New(apperrors.CodeNoSpeechDetected, "speech recognition produced no transcript")
	}

	return &model.TranscriptionResult{
		Text:         text,
		LanguageCode: hintOrAuto(req.LanguageHint),
	}, nil
}

// collect reads recognition events until the recognizer ends, reports an error,
// or fails to end within the grace period after the window elapses
func (c *LocalCapture) collect(ctx context.Context, session RecognitionSession, window time.Duration) ([]string, error) {
	var fragments []string

	windowTimer := time.NewTimer(window)
	defer windowTimer.Stop()
	windowElapsed := windowTimer.C

	var grace <-chan time.Time
	events := session.Events()

	for {
		select {
		case <-windowElapsed:
			windowElapsed = nil
			session.Stop()
			graceTimer := time.NewTimer(c.stopGrace)
			defer graceTimer.Stop()
			grace = graceTimer.C

		case <-grace:
			c.logger.Warnw("recognizer did not end after stop request", "grace", c.stopGrace)
			return fragments, nil

		case <-ctx.Done():
			return fragments, apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "local capture canceled")

		case event, ok := <-events:
			if !ok {
				return fragments, nil
			}
			switch event.Type {
			case EventResult:
				if !event.Final {
					continue
				}
				if fragment := strings.TrimSpace(event.Text); fragment != "" {
					fragments = append(fragments, fragment)
				}
			case EventError:
				if event.Error == RecognitionErrorNoSpeech {
					return fragments, apperrors.New(apperrors.CodeNoSpeechDetected, "no speech detected")
				}
				return fragments, apperrors.New(apperrors.CodeCaptureFailed, "speech recognition error: "+event.Error)
			case EventEnd:
				return fragments, nil
			}
		}
	}
}
