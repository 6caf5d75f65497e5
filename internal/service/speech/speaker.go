package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

const defaultSpeechCommand = "espeak-ng"

// ErrInterrupted is returned by Speak when the utterance was canceled by a newer one
var ErrInterrupted = errors.New("utterance interrupted")

// Speaker speaks text in a voice and blocks until the utterance ends
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// CommandSpeaker speaks through an espeak-ng style command: `command [args] -v voice text`
type CommandSpeaker struct {
	cmdRunner common.CmdRunner
	command   string
	args      []string
	logger    *zap.SugaredLogger
}

// NewCommandSpeaker creates a CommandSpeaker; an empty command uses espeak-ng
func NewCommandSpeaker(cmdRunner common.CmdRunner, command string, args []string, logger *zap.SugaredLogger) *CommandSpeaker {
	if command == "" {
		command = defaultSpeechCommand
	}
	return &CommandSpeaker{
		cmdRunner: cmdRunner,
		command:   command,
		args:      args,
		logger:    logger,
	}
}

// Available reports whether the speech command can be found
func (s *CommandSpeaker) Available() error {
	if _, err := s.cmdRunner.LookPath(s.command); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnsupportedCapability, "speech command not found: "+s.command)
	}
	return nil
}

// Speak runs the command and waits for it; canceling ctx kills it
func (s *CommandSpeaker) Speak(ctx context.Context, text, voice string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	args := append([]string{}, s.args...)
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, text)

	proc, err := s.cmdRunner.Start(ctx, s.command, args...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "failed to start speech command")
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "speech command failed")
		}
		return nil
	case <-ctx.Done():
		proc.Kill()
		<-done
		s.logger.Debugw("utterance canceled", "voice", voice)
		return ctx.Err()
	}
}

// ExclusiveSpeaker allows a single utterance at a time.
// Starting a new utterance cancels the one in flight.
type ExclusiveSpeaker struct {
	speaker Speaker
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	current chan struct{} // closed when the in-flight utterance has stopped
	seq     uint64
}

// NewExclusiveSpeaker wraps speaker
func NewExclusiveSpeaker(speaker Speaker, logger *zap.SugaredLogger) *ExclusiveSpeaker {
	return &ExclusiveSpeaker{speaker: speaker, logger: logger}
}

// Speak cancels any in-flight utterance, waits for it to stop, then speaks.
// It returns ErrInterrupted when a later call or Cancel cut this one short.
func (s *ExclusiveSpeaker) Speak(ctx context.Context, text, voice string) error {
	s.mu.Lock()
	s.stopLocked()
	previous := s.current

	uttCtx, cancel := context.WithCancel(ctx)
	s.seq++
	id := s.seq
	finished := make(chan struct{})
	s.cancel = cancel
	s.current = finished
	s.mu.Unlock()

	if previous != nil {
		<-previous
	}

	err := s.speaker.Speak(uttCtx, text, voice)

	s.mu.Lock()
	interrupted := uttCtx.Err() != nil && ctx.Err() == nil
	if s.seq == id {
		s.cancel = nil
		s.current = nil
	}
	s.mu.Unlock()
	cancel()
	close(finished)

	if interrupted {
		return ErrInterrupted
	}
	if err != nil && ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "speech canceled")
	}
	return err
}

// Cancel stops the in-flight utterance, if any, and waits for it to end
func (s *ExclusiveSpeaker) Cancel() {
	s.mu.Lock()
	s.stopLocked()
	current := s.current
	s.mu.Unlock()

	if current != nil {
		<-current
	}
}

// Speaking reports whether an utterance is in flight
func (s *ExclusiveSpeaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *ExclusiveSpeaker) stopLocked() {
	if s.cancel != nil {
		s.logger.Debugw("canceling in-flight utterance")
		s.cancel()
		s.cancel = nil
	}
}
