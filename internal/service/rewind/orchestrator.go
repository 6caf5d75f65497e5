package rewind

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/service/speech"
	"github.com/Taichi-iskw/rewind-lang/internal/service/transcription"
	"github.com/Taichi-iskw/rewind-lang/internal/service/translation"
)

// State is a step of the rewind-and-translate cycle
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateCapturing   State = "capturing"
	StateTranslating State = "translating"
	StateRestoring   State = "restoring"
	StateSpeaking    State = "speaking"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// StateChange is delivered to observers on every transition
type StateChange struct {
	CycleID string
	State   State
	Err     error // set with StateFailed
	At      time.Time
}

// Status is a point-in-time view for UIs
type Status struct {
	State       State                     `json:"state"`
	CycleID     string                    `json:"cycle_id,omitempty"`
	LastOutcome *model.TranslationOutcome `json:"last_outcome,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	LastCode    string                    `json:"last_error_code,omitempty"`
}

// StrategySelector resolves a transcription method to a validated strategy
type StrategySelector interface {
	Select(method model.TranscriptionMethod) (transcription.CaptureStrategy, error)
}

// SettingsSource supplies the settings read at the start of each cycle
type SettingsSource interface {
	Settings() model.Settings
}

// Options tunes an Orchestrator; zero values select defaults
type Options struct {
	ReadyTimeout time.Duration
	VoiceFor     func(lang string) string
	NewCycleID   func() string
}

// Orchestrator runs rewind-and-translate cycles against one playback resource.
// Cycles are serialized; a new request cancels the utterance of the previous
// cycle and queues behind it.
type Orchestrator struct {
	resource   playback.Resource
	selector   StrategySelector
	translator translation.Translator
	speaker    speech.Speaker
	settings   SettingsSource
	logger     *zap.SugaredLogger

	readyTimeout time.Duration
	voiceFor     func(string) string
	newCycleID   func() string

	cycle chan struct{} // holds a token while a cycle runs

	mu           sync.Mutex
	state        State
	cycleID      string
	waiting      int
	cancelSpeech context.CancelFunc
	lastOutcome  *model.TranslationOutcome
	lastErr      error
	observers    []func(StateChange)
}

// NewOrchestrator creates an Orchestrator in the Idle state
func NewOrchestrator(
	resource playback.Resource,
	selector StrategySelector,
	translator translation.Translator,
	speaker speech.Speaker,
	settings SettingsSource,
	logger *zap.SugaredLogger,
	opts Options,
) *Orchestrator {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = playback.DefaultReadyTimeout
	}
	if opts.VoiceFor == nil {
		opts.VoiceFor = speech.VoiceFor
	}
	if opts.NewCycleID == nil {
		opts.NewCycleID = uuid.NewString
	}
	return &Orchestrator{
		resource:     resource,
		selector:     selector,
		translator:   translator,
		speaker:      speaker,
		settings:     settings,
		logger:       logger,
		readyTimeout: opts.ReadyTimeout,
		voiceFor:     opts.VoiceFor,
		newCycleID:   opts.NewCycleID,
		cycle:        make(chan struct{}, 1),
		state:        StateIdle,
	}
}

// OnStateChange registers fn for every later transition.
// fn runs synchronously on the cycle goroutine and must not block.
func (o *Orchestrator) OnStateChange(fn func(StateChange)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the current state and the result of the last cycle
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := Status{State: o.state, CycleID: o.cycleID, LastOutcome: o.lastOutcome}
	if o.lastErr != nil {
		status.LastError = apperrors.UserMessage(o.lastErr)
		status.LastCode = apperrors.CodeOf(o.lastErr)
	}
	return status
}

// Busy reports whether a cycle is running or queued
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != StateIdle || o.waiting > 0 || len(o.cycle) > 0
}

// Control runs fn with the cycle slot held, so manual playback changes never
// interleave with a cycle. It fails with CodeBusy while a cycle runs or waits.
func (o *Orchestrator) Control(fn func() error) error {
	o.mu.Lock()
	queued := o.waiting > 0
	o.mu.Unlock()
	if queued {
		return errBusy()
	}

	select {
	case o.cycle <- struct{}{}:
	default:
		return errBusy()
	}
	defer o.release()
	return fn()
}

func errBusy() error {
	return apperrors.New(apperrors.CodeBusy, "a rewind is in progress; playback is restored when it finishes")
}

// Run performs one rewind-and-translate cycle.
// Configuration errors return before playback is touched. Any later failure
// restores the pre-cycle position and play state before it is returned.
func (o *Orchestrator) Run(ctx context.Context) (*model.TranslationOutcome, error) {
	settings := o.settings.Settings()

	strategy, err := o.prepare(settings)
	if err != nil {
		o.logger.Warnw("rewind rejected by configuration", "error", err)
		o.recordResult(nil, err)
		return nil, err
	}

	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.release()

	return o.runCycle(ctx, strategy, settings)
}

// prepare validates everything that can be checked without touching playback
func (o *Orchestrator) prepare(settings model.Settings) (transcription.CaptureStrategy, error) {
	target := strings.TrimSpace(settings.TargetLang)
	if target == "" || target == model.LanguageAuto {
		return nil, apperrors.New(apperrors.CodeMissingConfiguration, "target language is not set")
	}
	return o.selector.Select(settings.TranscriptionMethod)
}

// acquire cancels the running cycle's utterance and waits for the cycle slot
func (o *Orchestrator) acquire(ctx context.Context) error {
	o.mu.Lock()
	o.waiting++
	if o.cancelSpeech != nil {
		o.logger.Infow("canceling utterance of previous cycle", "cycleID", o.cycleID)
		o.cancelSpeech()
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.waiting--
		o.mu.Unlock()
	}()

	select {
	case o.cycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "rewind canceled while waiting for the previous one")
	}
}

func (o *Orchestrator) release() {
	<-o.cycle
}

func (o *Orchestrator) runCycle(ctx context.Context, strategy transcription.CaptureStrategy, settings model.Settings) (*model.TranslationOutcome, error) {
	cycleID := o.newCycleID()
	log := o.logger.With("cycleID", cycleID, "method", strategy.Method())

	o.mu.Lock()
	o.cycleID = cycleID
	o.mu.Unlock()

	// Preparing: record state, then force-pause even if already paused
	o.setState(StatePreparing, nil)
	guard := playback.NewGuard(o.resource, o.readyTimeout)
	snapshot := guard.Snapshot()
	if err := o.resource.Pause(); err != nil {
		return nil, o.fail(ctx, guard, log, apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to pause playback"))
	}

	window := playback.CalculateWindow(snapshot.Position, settings.RewindSeconds)
	log.Infow("rewind started",
		"position", snapshot.Position, "wasPlaying", snapshot.WasPlaying,
		"start", window.StartTime, "end", window.EndTime)

	// Capturing
	o.setState(StateCapturing, nil)
	result, err := strategy.Capture(ctx, transcription.CaptureRequest{
		Resource:     o.resource,
		Window:       window,
		LanguageHint: settings.SourceLang,
		ReadyTimeout: o.readyTimeout,
	})
	if err != nil {
		return nil, o.fail(ctx, guard, log, err)
	}

	sourceLang := ResolveLanguage(result.LanguageCode, settings.SourceLang, settings.DefaultSourceLang)
	log.Infow("capture finished", "chars", len(result.Text), "reported", result.LanguageCode, "resolved", sourceLang)

	// Translating
	o.setState(StateTranslating, nil)
	translated, err := o.translator.Translate(ctx, result.Text, sourceLang, settings.TargetLang)
	if err != nil {
		return nil, o.fail(ctx, guard, log, translationError(ctx, err))
	}

	// Restoring: the resource may have been reloaded by capture, so wait for ready and verify
	o.setState(StateRestoring, nil)
	target := snapshot.Position
	if settings.ReplayWindow {
		target = window.StartTime
	}
	if err := playback.SeekAndVerify(ctx, o.resource, target, o.readyTimeout); err != nil {
		return nil, o.fail(ctx, guard, log, err)
	}

	// Speaking
	o.setState(StateSpeaking, nil)
	if err := o.speak(ctx, log, translated, settings.TargetLang); err != nil {
		return nil, o.fail(ctx, guard, log, err)
	}

	// Complete
	if err := guard.RestoreTo(ctx, target); err != nil {
		// the guard is spent; report without a second restore
		o.setState(StateFailed, err)
		o.recordResult(nil, err)
		o.setState(StateIdle, nil)
		return nil, err
	}

	outcome := &model.TranslationOutcome{
		CycleID:          cycleID,
		OriginalText:     result.Text,
		TranslatedText:   translated,
		Window:           window,
		DetectedLanguage: sourceLang,
		TargetLanguage:   settings.TargetLang,
		Method:           strategy.Method(),
	}
	o.recordResult(outcome, nil)
	o.setState(StateComplete, nil)
	o.setState(StateIdle, nil)

	log.Infow("rewind complete", "restoredTo", target)
	return outcome, nil
}

// speak blocks until the utterance ends. An utterance cut short by a newer
// cycle is not a failure.
func (o *Orchestrator) speak(ctx context.Context, log *zap.SugaredLogger, text, lang string) error {
	o.mu.Lock()
	if o.waiting > 0 {
		o.mu.Unlock()
		log.Infow("skipping speech, a newer rewind is waiting")
		return nil
	}
	speakCtx, cancel := context.WithCancel(ctx)
	o.cancelSpeech = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancelSpeech = nil
		o.mu.Unlock()
		cancel()
	}()

	err := o.speaker.Speak(speakCtx, text, o.voiceFor(lang))
	if err == nil {
		return nil
	}
	if speakCtx.Err() != nil && ctx.Err() == nil {
		log.Infow("utterance interrupted by a newer rewind")
		return nil
	}
	if errors.Is(err, speech.ErrInterrupted) {
		log.Infow("utterance interrupted")
		return nil
	}
	if apperrors.CodeOf(err) == "" {
		return apperrors.Wrap(err, apperrors.CodeSpeechFailed, "speech synthesis failed")
	}
	return err
}

// fail restores the recorded state exactly once, then returns to Idle
func (o *Orchestrator) fail(ctx context.Context, guard *playback.Guard, log *zap.SugaredLogger, cause error) error {
	log.Errorw("rewind failed", "code", apperrors.CodeOf(cause), "error", cause)
	o.setState(StateFailed, cause)

	// restore even when the caller gave up on the cycle
	restoreCtx := context.WithoutCancel(ctx)
	if err := guard.Restore(restoreCtx); err != nil {
		log.Errorw("failed to restore playback after failure", "error", err)
	}

	o.recordResult(nil, cause)
	o.setState(StateIdle, nil)
	return cause
}

func (o *Orchestrator) setState(state State, err error) {
	o.mu.Lock()
	o.state = state
	change := StateChange{CycleID: o.cycleID, State: state, Err: err, At: time.Now()}
	observers := append([]func(StateChange){}, o.observers...)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

func (o *Orchestrator) recordResult(outcome *model.TranslationOutcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if outcome != nil {
		o.lastOutcome = outcome
	}
	o.lastErr = err
}

// translationError maps collaborator errors onto the taxonomy
func translationError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "translation canceled")
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeTranslationFailed, apperrors.CodeCanceled:
		return err
	}
	return apperrors.Wrap(err, apperrors.CodeTranslationFailed, "translation failed")
}

// ResolveLanguage picks the source language for translation: the detected
// language, else the configured hint, else the fallback. It never returns
// "auto" or an empty tag.
func ResolveLanguage(detected, hint, fallback string) string {
	for _, candidate := range []string{detected, hint, fallback} {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate != "" && candidate != model.LanguageAuto {
			return candidate
		}
	}
	return "en"
}
