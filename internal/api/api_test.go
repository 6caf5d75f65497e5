package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/feed"
	"github.com/Taichi-iskw/rewind-lang/internal/service/rewind"
	"github.com/Taichi-iskw/rewind-lang/internal/service/transcription"
)

type fakeRewinder struct {
	outcome *model.TranslationOutcome
	err     error
	status  rewind.Status
	calls   int
	busy    bool
}

func (f *fakeRewinder) Run(ctx context.Context) (*model.TranslationOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

func (f *fakeRewinder) Status() rewind.Status {
	return f.status
}

func (f *fakeRewinder) Control(fn func() error) error {
	if f.busy {
		return apperrors.New(apperrors.CodeBusy, "a rewind is in progress")
	}
	return fn()
}

type mockFeeds struct {
	mock.Mock
}

func (m *mockFeeds) Touch(ctx context.Context, url, title string) (*model.Feed, error) {
	args := m.Called(ctx, url, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Feed), args.Error(1)
}

func (m *mockFeeds) Get(ctx context.Context, url string) (*model.Feed, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Feed), args.Error(1)
}

func (m *mockFeeds) List(ctx context.Context, limit int) ([]*model.Feed, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Feed), args.Error(1)
}

func (m *mockFeeds) Delete(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

type countingCanceler struct {
	calls int
}

func (c *countingCanceler) Cancel() {
	c.calls++
}

func newTestRouter(rewinder Rewinder, resource playback.Resource, feeds feed.Repository) http.Handler {
	return NewRouter(Deps{
		Rewinder: rewinder,
		Resource: resource,
		Feeds:    feeds,
		Logger:   zap.NewNop().Sugar(),
	})
}

func do(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), nil)

	rec := do(t, router, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRewind(t *testing.T) {
	t.Run("success returns the outcome", func(t *testing.T) {
		rewinder := &fakeRewinder{outcome: &model.TranslationOutcome{
			CycleID:        "cycle-1",
			OriginalText:   "Hola mundo",
			TranslatedText: "Hello world",
			Window:         model.PlaybackWindow{StartTime: 10, EndTime: 25, Duration: 15},
			TargetLanguage: "en",
			Method:         model.MethodSelfHosted,
		}}
		router := newTestRouter(rewinder, playback.NewFakeResource(25, true), nil)

		rec := do(t, router, http.MethodPost, "/api/rewind", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var outcome model.TranslationOutcome
		decodeBody(t, rec, &outcome)
		assert.Equal(t, "Hello world", outcome.TranslatedText)
		assert.Equal(t, 15.0, outcome.Window.Duration)
		assert.Equal(t, 1, rewinder.calls)
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unreachable service",
			err:        apperrors.New(apperrors.CodeConnectionFailed, "dial tcp: connection refused"),
			wantStatus: http.StatusBadGateway,
			wantCode:   apperrors.CodeConnectionFailed,
		},
		{
			name:       "misconfigured",
			err:        apperrors.New(apperrors.CodeMissingConfiguration, "selfhosted.api_url is not set"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   apperrors.CodeMissingConfiguration,
		},
		{
			name:       "no speech",
			err:        apperrors.New(apperrors.CodeNoSpeechDetected, "transcript is empty"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   apperrors.CodeNoSpeechDetected,
		},
		{
			name:       "playback failure",
			err:        apperrors.New(apperrors.CodePlaybackFailed, "resource did not become ready"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.CodePlaybackFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeRewinder{err: tt.err}, playback.NewFakeResource(25, true), nil)

			rec := do(t, router, http.MethodPost, "/api/rewind", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]string
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, apperrors.UserMessage(tt.err), body["error"])
		})
	}
}

func TestStatus(t *testing.T) {
	rewinder := &fakeRewinder{status: rewind.Status{State: rewind.StateCapturing, CycleID: "cycle-7"}}
	router := newTestRouter(rewinder, playback.NewFakeResource(42.5, true), nil)

	rec := do(t, router, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, rewind.StateCapturing, body.Rewind.State)
	assert.Equal(t, "cycle-7", body.Rewind.CycleID)
	assert.Equal(t, PlaybackStatus{Source: "fake://episode.mp3", Position: 42.5, Paused: false, Ready: true}, body.Playback)
}

func TestPlaybackControls(t *testing.T) {
	t.Run("pause and play", func(t *testing.T) {
		resource := playback.NewFakeResource(12, true)
		router := newTestRouter(&fakeRewinder{}, resource, nil)

		rec := do(t, router, http.MethodPost, "/api/playback/pause", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resource.IsPaused())

		rec = do(t, router, http.MethodPost, "/api/playback/play", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, resource.IsPaused())
	})

	t.Run("seek", func(t *testing.T) {
		resource := playback.NewFakeResource(12, false)
		router := newTestRouter(&fakeRewinder{}, resource, nil)

		rec := do(t, router, http.MethodPost, "/api/playback/seek", `{"position": 90}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var body PlaybackStatus
		decodeBody(t, rec, &body)
		assert.Equal(t, 90.0, body.Position)
	})

	t.Run("seek rejects bad input", func(t *testing.T) {
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(12, false), nil)

		for _, body := range []string{`{"position": -1}`, `{"position": 5, "speed": 2}`, `not json`} {
			rec := do(t, router, http.MethodPost, "/api/playback/seek", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("play before load", func(t *testing.T) {
		resource := playback.NewFakeResource(0, false)
		resource.PlayErr = apperrors.New(apperrors.CodePlaybackFailed, "cannot play before the source is loaded")
		router := newTestRouter(&fakeRewinder{}, resource, nil)

		rec := do(t, router, http.MethodPost, "/api/playback/play", "")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

// heldStrategy blocks in Capture until released
type heldStrategy struct {
	entered chan struct{}
	release chan struct{}
}

func (s *heldStrategy) Method() model.TranscriptionMethod { return model.MethodSelfHosted }
func (s *heldStrategy) Validate() error                   { return nil }
func (s *heldStrategy) Capture(ctx context.Context, req transcription.CaptureRequest) (*model.TranscriptionResult, error) {
	close(s.entered)
	<-s.release
	return &model.TranscriptionResult{Text: "Hola mundo", LanguageCode: "es"}, nil
}

type heldSelector struct {
	strategy transcription.CaptureStrategy
}

func (s heldSelector) Select(method model.TranscriptionMethod) (transcription.CaptureStrategy, error) {
	return s.strategy, nil
}

type echoTranslator struct{}

func (echoTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return "Hello world", nil
}

type silentSpeaker struct{}

func (silentSpeaker) Speak(ctx context.Context, text, voice string) error { return nil }

type fixedSettings model.Settings

func (s fixedSettings) Settings() model.Settings { return model.Settings(s) }

func TestPlaybackControls_DuringCycle(t *testing.T) {
	resource := playback.NewFakeResource(25, true)
	strategy := &heldStrategy{entered: make(chan struct{}), release: make(chan struct{})}
	orchestrator := rewind.NewOrchestrator(resource, heldSelector{strategy}, echoTranslator{}, silentSpeaker{},
		fixedSettings{TranscriptionMethod: model.MethodSelfHosted, SourceLang: "es", TargetLang: "en", RewindSeconds: 15},
		zap.NewNop().Sugar(), rewind.Options{})
	router := newTestRouter(orchestrator, resource, nil)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- do(t, router, http.MethodPost, "/api/rewind", "")
	}()

	select {
	case <-strategy.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never reached capture")
	}
	require.True(t, orchestrator.Busy())

	for _, tc := range []struct{ target, body string }{
		{"/api/playback/seek", `{"position": 3}`},
		{"/api/playback/play", ""},
		{"/api/playback/pause", ""},
	} {
		rec := do(t, router, http.MethodPost, tc.target, tc.body)
		assert.Equal(t, http.StatusConflict, rec.Code, tc.target)
		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, apperrors.CodeBusy, body["code"], tc.target)
	}
	assert.Equal(t, 25.0, resource.CurrentTime(), "position untouched while capturing")
	assert.True(t, resource.IsPaused(), "player stays paused while capturing")

	close(strategy.release)
	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25.0, resource.CurrentTime())
	assert.False(t, resource.IsPaused())
	assert.False(t, orchestrator.Busy())

	// controls work again once the cycle is over
	rec = do(t, router, http.MethodPost, "/api/playback/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resource.IsPaused())
}

func TestPlaybackControls_Busy(t *testing.T) {
	resource := playback.NewFakeResource(12, true)
	router := newTestRouter(&fakeRewinder{busy: true}, resource, nil)

	rec := do(t, router, http.MethodPost, "/api/playback/pause", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, apperrors.UserMessage(apperrors.New(apperrors.CodeBusy, "")), body["error"])
	assert.False(t, resource.IsPaused())
}

func TestStopSpeech(t *testing.T) {
	canceler := &countingCanceler{}
	router := NewRouter(Deps{
		Rewinder: &fakeRewinder{},
		Resource: playback.NewFakeResource(0, false),
		Speech:   canceler,
		Logger:   zap.NewNop().Sugar(),
	})

	rec := do(t, router, http.MethodPost, "/api/speech/stop", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, canceler.calls)
}

func TestFeeds(t *testing.T) {
	openedAt := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)

	t.Run("list", func(t *testing.T) {
		feeds := &mockFeeds{}
		feeds.On("List", mock.Anything, 5).Return([]*model.Feed{
			{URL: "https://example.com/rss", Title: "Daily Spanish", LastOpenedAt: openedAt},
		}, nil)
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), feeds)

		rec := do(t, router, http.MethodGet, "/api/feeds?limit=5", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var body []model.Feed
		decodeBody(t, rec, &body)
		require.Len(t, body, 1)
		assert.Equal(t, "Daily Spanish", body[0].Title)
		feeds.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), &mockFeeds{})

		rec := do(t, router, http.MethodGet, "/api/feeds?limit=many", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("touch", func(t *testing.T) {
		feeds := &mockFeeds{}
		feeds.On("Touch", mock.Anything, "https://example.com/rss", "Daily Spanish").
			Return(&model.Feed{URL: "https://example.com/rss", Title: "Daily Spanish", LastOpenedAt: openedAt}, nil)
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), feeds)

		rec := do(t, router, http.MethodPost, "/api/feeds", `{"url":"https://example.com/rss","title":"Daily Spanish"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		feeds.AssertExpectations(t)
	})

	t.Run("delete missing feed", func(t *testing.T) {
		feeds := &mockFeeds{}
		feeds.On("Delete", mock.Anything, "https://example.com/rss").
			Return(apperrors.New(apperrors.CodeNotFound, "feed not found"))
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), feeds)

		rec := do(t, router, http.MethodDelete, "/api/feeds?url=https%3A%2F%2Fexample.com%2Frss", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, "feed not found", body["error"])
	})

	t.Run("delete without url", func(t *testing.T) {
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), &mockFeeds{})

		rec := do(t, router, http.MethodDelete, "/api/feeds", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("without a database", func(t *testing.T) {
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), nil)

		rec := do(t, router, http.MethodGet, "/api/feeds", "")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight from any origin", func(t *testing.T) {
		router := newTestRouter(&fakeRewinder{}, playback.NewFakeResource(0, false), nil)

		req := httptest.NewRequest(http.MethodOptions, "/api/rewind", nil)
		req.Header.Set("Origin", "chrome-extension://abcdef")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("options", func(t *testing.T) {
		wildcard := CORSOptions(nil)
		assert.Equal(t, []string{"*"}, wildcard.AllowedOrigins)
		assert.False(t, wildcard.AllowCredentials)

		explicit := CORSOptions([]string{"http://localhost:5173"})
		assert.True(t, explicit.AllowCredentials)
		assert.Equal(t, 300, explicit.MaxAge)
	})
}
