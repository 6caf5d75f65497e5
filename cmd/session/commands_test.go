package session

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Taichi-iskw/rewind-lang/internal/config"
	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/service/rewind"
	"github.com/Taichi-iskw/rewind-lang/internal/service/transcription"
)

// Mock rewinder
type mockRewinder struct {
	mu      sync.Mutex
	calls   int
	outcome *model.TranslationOutcome
	err     error
	busy    bool
}

func (m *mockRewinder) Run(ctx context.Context) (*model.TranslationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.outcome, m.err
}

func (m *mockRewinder) Status() rewind.Status {
	return rewind.Status{State: rewind.StateIdle}
}

func (m *mockRewinder) Control(fn func() error) error {
	if m.busy {
		return apperrors.New(apperrors.CodeBusy, "a rewind is in progress")
	}
	return fn()
}

func (m *mockRewinder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockStrategy struct {
	method model.TranscriptionMethod
}

func (m *mockStrategy) Method() model.TranscriptionMethod { return m.method }
func (m *mockStrategy) Validate() error                   { return nil }
func (m *mockStrategy) Capture(ctx context.Context, req transcription.CaptureRequest) (*model.TranscriptionResult, error) {
	return nil, nil
}

// Mock factory
type mockFactory struct {
	session       *Session
	createErr     error
	planErr       error
	cfg           *config.Config
	gotOverrides  Overrides
	gotSource     string
	createdCalled bool
}

func (m *mockFactory) CreateSession(ctx context.Context, mediaSource string, overrides Overrides) (*Session, error) {
	m.createdCalled = true
	m.gotSource, m.gotOverrides = mediaSource, overrides
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.session, nil
}

func (m *mockFactory) Plan(ctx context.Context, overrides Overrides) (*config.Config, transcription.CaptureStrategy, error) {
	m.gotOverrides = overrides
	if m.planErr != nil {
		return nil, nil, m.planErr
	}
	return m.cfg, &mockStrategy{method: model.TranscriptionMethod(m.cfg.TranscriptionMethod)}, nil
}

func sampleOutcome() *model.TranslationOutcome {
	return &model.TranslationOutcome{
		CycleID:          "cycle-1",
		OriginalText:     "Hola mundo",
		TranslatedText:   "Hello world",
		Window:           model.PlaybackWindow{StartTime: 10, EndTime: 25, Duration: 15},
		DetectedLanguage: "es",
		TargetLanguage:   "en",
		Method:           model.MethodSelfHosted,
	}
}

func newTestSession(resource playback.Resource, rewinder *mockRewinder) *Session {
	return &Session{
		Config:   &config.Config{ReadyTimeout: playback.DefaultReadyTimeout},
		Title:    "Daily Spanish",
		Resource: resource,
		Rewinder: rewinder,
		Logger:   zap.NewNop().Sugar(),
	}
}

func TestRewindCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		rewinder       *mockRewinder
		createErr      error
		expectedOutput []string
		wantErr        bool
		wantPosition   float64
	}{
		{
			name:           "text output",
			args:           []string{"episode.mp3", "--at", "25"},
			rewinder:       &mockRewinder{outcome: sampleOutcome()},
			expectedOutput: []string{"[es -> en] 0:10.0-0:25.0 via selfhosted", "=> Hello world"},
			wantPosition:   25,
		},
		{
			name:           "json output",
			args:           []string{"episode.mp3", "--at", "25", "-o", "json"},
			rewinder:       &mockRewinder{outcome: sampleOutcome()},
			expectedOutput: []string{`"translated_text": "Hello world"`, `"start_time": 10`},
			wantPosition:   25,
		},
		{
			name:     "cycle failure",
			args:     []string{"episode.mp3", "--at", "25"},
			rewinder: &mockRewinder{err: apperrors.New(apperrors.CodeNoSpeechDetected, "transcript is empty")},
			wantErr:  true,
		},
		{
			name:      "source cannot be opened",
			args:      []string{"missing.mp3"},
			rewinder:  &mockRewinder{},
			createErr: apperrors.New(apperrors.CodeNotFound, "media file not found"),
			wantErr:   true,
		},
		{
			name:     "unknown output format",
			args:     []string{"episode.mp3", "-o", "srt"},
			rewinder: &mockRewinder{},
			wantErr:  true,
		},
		{
			name:     "missing source",
			args:     []string{},
			rewinder: &mockRewinder{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resource := playback.NewFakeResource(0, false)
			factory := &mockFactory{session: newTestSession(resource, tt.rewinder), createErr: tt.createErr}

			cmd := NewRewindCommand(factory)
			var buf bytes.Buffer
			cmd.SetOut(&buf)
			cmd.SetErr(&buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, expected := range tt.expectedOutput {
				assert.Contains(t, buf.String(), expected)
			}
			assert.Equal(t, 1, tt.rewinder.Calls())
			assert.Equal(t, tt.wantPosition, resource.CurrentTime())
		})
	}
}

func TestRewindCommand_Overrides(t *testing.T) {
	factory := &mockFactory{session: newTestSession(playback.NewFakeResource(0, false), &mockRewinder{outcome: sampleOutcome()})}

	cmd := NewRewindCommand(factory)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"episode.mp3", "--method", "cloud", "--source-lang", "es", "--target-lang", "ja", "--seconds", "8", "--replay"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "episode.mp3", factory.gotSource)
	assert.Equal(t, Overrides{Method: "cloud", SourceLang: "es", TargetLang: "ja", RewindSeconds: 8, ReplayWindow: true}, factory.gotOverrides)
}

func TestRewindCommand_DryRun(t *testing.T) {
	factory := &mockFactory{cfg: &config.Config{
		TranscriptionMethod: "selfhosted",
		SourceLang:          "auto",
		TargetLang:          "en",
		RewindSeconds:       15,
		Translation:         config.TranslationConfig{Provider: "ollama", Fallback: "http"},
	}}

	cmd := NewRewindCommand(factory)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"episode.mp3", "--at", "8", "--dry-run"})

	require.NoError(t, cmd.Execute())
	assert.False(t, factory.createdCalled, "dry run must not load media")
	output := buf.String()
	assert.Contains(t, output, "DRY RUN")
	assert.Contains(t, output, "Window: 0:00.0-0:08.0 (8.0s)")
	assert.Contains(t, output, "Translation: ollama (fallback http)")
	assert.Contains(t, output, "Resume at: 0:08.0")
}

func TestRewindCommand_DryRunConfigError(t *testing.T) {
	factory := &mockFactory{planErr: apperrors.New(apperrors.CodeMissingConfiguration, "selfhosted.api_url is not set")}

	cmd := NewRewindCommand(factory)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"episode.mp3", "--dry-run"})

	err := cmd.Execute()
	assert.Equal(t, apperrors.CodeMissingConfiguration, apperrors.CodeOf(err))
}

type countingCanceler struct {
	calls int
}

func (c *countingCanceler) Cancel() {
	c.calls++
}

func TestRunKeyLoop(t *testing.T) {
	resource := playback.NewFakeResource(30, true)
	rewinder := &mockRewinder{outcome: sampleOutcome()}
	canceler := &countingCanceler{}
	session := newTestSession(resource, rewinder)
	session.Speech = canceler

	var out bytes.Buffer
	input := strings.NewReader("r\np\ns\nhelp\nq\nr\n")

	err := runKeyLoop(context.Background(), input, &out, session, &TextFormatter{})

	require.NoError(t, err)
	assert.Equal(t, 1, rewinder.Calls(), "input after q is ignored")
	assert.True(t, resource.IsPaused())
	assert.Equal(t, 1, canceler.calls)
	assert.Contains(t, out.String(), "=> Hello world")
	assert.Contains(t, out.String(), "Paused at 0:30.0")
	assert.Contains(t, out.String(), keyHelp)
}

func TestRunKeyLoop_ReportsFailure(t *testing.T) {
	rewinder := &mockRewinder{err: apperrors.New(apperrors.CodeConnectionFailed, "refused")}
	session := newTestSession(playback.NewFakeResource(30, true), rewinder)

	var out bytes.Buffer
	err := runKeyLoop(context.Background(), strings.NewReader("\nq\n"), &out, session, &TextFormatter{})

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Rewind failed: The transcription service is unreachable")
}

func TestRunKeyLoop_StopsOnCancel(t *testing.T) {
	session := newTestSession(playback.NewFakeResource(30, true), &mockRewinder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runKeyLoop(ctx, strings.NewReader(""), &bytes.Buffer{}, session, &TextFormatter{})

	assert.NoError(t, err)
}

func TestRunKeyLoop_PlaybackLockedDuringRewind(t *testing.T) {
	resource := playback.NewFakeResource(30, true)
	session := newTestSession(resource, &mockRewinder{busy: true})

	var out bytes.Buffer
	err := runKeyLoop(context.Background(), strings.NewReader("p\nq\n"), &out, session, &TextFormatter{})

	require.NoError(t, err)
	assert.False(t, resource.IsPaused())
	assert.Equal(t, 0, resource.PauseCalls)
	assert.Contains(t, out.String(), "Playback unchanged: A rewind is already in progress.")
}
