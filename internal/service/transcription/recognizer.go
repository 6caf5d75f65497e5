package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

// RecognitionEventType distinguishes recognition events
type RecognitionEventType int

const (
	EventResult RecognitionEventType = iota
	EventError
	EventEnd
)

// RecognitionErrorNoSpeech is the error reported when nothing was heard
const RecognitionErrorNoSpeech = "no-speech"

// RecognitionEvent is a single message from a recognizer
type RecognitionEvent struct {
	Type  RecognitionEventType
	Text  string
	Final bool   // interim results are not final
	Error string // set for EventError
}

// Recognizer is a continuous speech recognizer
type Recognizer interface {
	// Available returns an UnsupportedCapability error when recognition cannot run here
	Available() error
	// Start begins recognition of audio; language is a hint and may be "auto"
	Start(ctx context.Context, audio <-chan playback.Frame, language string) (RecognitionSession, error)
}

// RecognitionSession is one running recognition
type RecognitionSession interface {
	// Events is closed after the session ends
	Events() <-chan RecognitionEvent
	// Stop ends the audio stream; the recognizer flushes and ends
	Stop()
	// Close tears the session down and waits for it
	Close() error
}

// CommandRecognizer runs a streaming recognizer command.
// PCM goes to the command's stdin; it prints one JSON event per line:
//
//	{"type":"result","text":"hola","final":true}
//	{"type":"error","error":"no-speech"}
//	{"type":"end"}
type CommandRecognizer struct {
	cmdRunner common.CmdRunner
	command   string
	args      []string
	logger    *zap.SugaredLogger
}

// NewCommandRecognizer creates a recognizer backed by command
func NewCommandRecognizer(cmdRunner common.CmdRunner, command string, args []string, logger *zap.SugaredLogger) *CommandRecognizer {
	return &CommandRecognizer{
		cmdRunner: cmdRunner,
		command:   command,
		args:      args,
		logger:    logger,
	}
}

func (r *CommandRecognizer) Available() error {
	if r.command == "" {
		return apperrors.New(apperrors.CodeUnsupportedCapability, "no speech recognition command configured")
	}
	if _, err := r.cmdRunner.LookPath(r.command); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnsupportedCapability, "speech recognition command not found: "+r.command)
	}
	return nil
}

func (r *CommandRecognizer) Start(ctx context.Context, audio <-chan playback.Frame, language string) (RecognitionSession, error) {
	args := append([]string{}, r.args...)
	if language != "" && language != model.LanguageAuto {
		args = append(args, "--language", language)
	}

	proc, err := r.cmdRunner.StartPiped(ctx, r.command, args...)
	if err != nil {
		return nil, err
	}

	s := &commandSession{
		proc:   proc,
		events: make(chan RecognitionEvent),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: r.logger,
	}
	s.wg.Add(2)
	go s.feed(audio)
	go s.read()
	return s, nil
}

type commandSession struct {
	proc   common.PipedProcess
	events chan RecognitionEvent
	logger *zap.SugaredLogger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

type commandEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

func (s *commandSession) Events() <-chan RecognitionEvent {
	return s.events
}

func (s *commandSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *commandSession) Close() error {
	s.Stop()
	s.doneOnce.Do(func() { close(s.done) })
	s.proc.Kill()
	s.wg.Wait()
	s.proc.Wait()
	return nil
}

// feed copies PCM to stdin until stopped or the audio ends
func (s *commandSession) feed(audio <-chan playback.Frame) {
	defer s.wg.Done()
	defer s.proc.Stdin().Close()

	for {
		select {
		case <-s.stop:
			return
		case <-s.done:
			return
		case frame, ok := <-audio:
			if !ok {
				return
			}
			if _, err := s.proc.Stdin().Write(frame.PCM); err != nil {
				s.logger.Debugw("recognizer stdin closed", "error", err)
				return
			}
		}
	}
}

// read turns stdout lines into events and closes the channel at EOF
func (s *commandSession) read() {
	defer s.wg.Done()
	defer close(s.events)

	scanner := bufio.NewScanner(s.proc.Stdout())
	for scanner.Scan() {
		var msg commandEvent
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Debugw("skipping unparseable recognizer output", "line", scanner.Text())
			continue
		}

		var event RecognitionEvent
		switch msg.Type {
		case "result":
			event = RecognitionEvent{Type: EventResult, Text: msg.Text, Final: msg.Final}
		case "error":
			event = RecognitionEvent{Type: EventError, Error: msg.Error}
		case "end":
			event = RecognitionEvent{Type: EventEnd}
		default:
			continue
		}
		if !s.emit(event) {
			return
		}
	}
	s.emit(RecognitionEvent{Type: EventEnd})
}

func (s *commandSession) emit(event RecognitionEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}
