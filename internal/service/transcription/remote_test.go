package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
)

var testWindow = model.PlaybackWindow{StartTime: 10, EndTime: 25, Duration: 15}

type stubBuffer struct {
	audio []byte
	ok    bool
	asked []model.PlaybackWindow
}

func (b *stubBuffer) Window(window model.PlaybackWindow) ([]byte, bool) {
	b.asked = append(b.asked, window)
	return b.audio, b.ok
}

// capturedRequest is what a test server saw
type capturedRequest struct {
	path     string
	query    map[string]string
	auth     string
	fileName string
	field    string
	fields   map[string]string
	audio    []byte
}

func newASRServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	seen := &capturedRequest{query: map[string]string{}, fields: map[string]string{}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.path = r.URL.Path
		for key := range r.URL.Query() {
			seen.query[key] = r.URL.Query().Get(key)
		}
		seen.auth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(10<<20))
		for key, values := range r.MultipartForm.Value {
			seen.fields[key] = values[0]
		}
		for field, files := range r.MultipartForm.File {
			seen.field = field
			seen.fileName = files[0].Filename
			f, err := files[0].Open()
			require.NoError(t, err)
			seen.audio, _ = io.ReadAll(f)
			f.Close()
		}

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, seen
}

func TestSelfHostedCapture_Capture(t *testing.T) {
	logger := zap.NewNop().Sugar()

	t.Run("posts the clone recording and maps the detected language", func(t *testing.T) {
		server, seen := newASRServer(t, http.StatusOK, "application/json", `{"text":" Hola ","language":"spanish"}`)
		resource := playback.NewFakeResource(25, true)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL + "/"}, server.Client(), nil, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{Resource: resource, Window: testWindow, LanguageHint: "auto"})

		require.NoError(t, err)
		assert.Equal(t, &model.TranscriptionResult{Text: "Hola", LanguageCode: "es"}, result)
		assert.Equal(t, "/asr", seen.path)
		assert.Equal(t, "transcribe", seen.query["task"])
		assert.Equal(t, "json", seen.query["output"])
		assert.Equal(t, "true", seen.query["encode"])
		assert.NotContains(t, seen.query, "language")
		assert.Equal(t, "audio_file", seen.field)
		assert.Empty(t, seen.auth)

		require.Len(t, resource.Clones, 1)
		assert.True(t, resource.Clones[0].Closed, "clone released after capture")
		assert.Equal(t, []model.PlaybackWindow{testWindow}, resource.Clones[0].Windows)
		assert.Equal(t, 0, resource.AttachCalls, "visible resource tap is never consumed")
		assert.Equal(t, 0, resource.PlayCalls)
	})

	t.Run("sends the language hint", func(t *testing.T) {
		server, seen := newASRServer(t, http.StatusOK, "application/json", `{"text":"Bonjour"}`)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), nil, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow, LanguageHint: "fr",
		})

		require.NoError(t, err)
		assert.Equal(t, "fr", seen.query["language"])
		assert.Equal(t, "fr", result.LanguageCode)
	})

	t.Run("plain text response uses the hint", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusOK, "text/plain", "hello\n")
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), nil, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow, LanguageHint: "es",
		})

		require.NoError(t, err)
		assert.Equal(t, &model.TranscriptionResult{Text: "hello", LanguageCode: "es"}, result)
	})

	t.Run("malformed JSON is a remote error", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusOK, "application/json; charset=utf-8", `{"text":"Hola`)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), nil, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow, LanguageHint: "es",
		})

		assert.Nil(t, result)
		assert.Equal(t, apperrors.CodeRemoteError, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "malformed JSON")
	})

	t.Run("empty text is no speech", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusOK, "application/json", `{"text":"","language":"english"}`)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow,
		})

		assert.True(t, apperrors.Is(err, apperrors.CodeNoSpeechDetected))
	})

	t.Run("non-success status carries the server detail", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusInternalServerError, "application/json", `{"detail":"model not loaded"}`)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow,
		})

		assert.True(t, apperrors.Is(err, apperrors.CodeRemoteError))
		assert.Contains(t, err.Error(), "500")
		assert.Contains(t, err.Error(), "model not loaded")
	})

	t.Run("unreachable server is a connection failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: url}, &http.Client{}, nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow,
		})

		assert.True(t, apperrors.Is(err, apperrors.CodeConnectionFailed))
	})

	t.Run("buffered audio avoids the clone", func(t *testing.T) {
		server, seen := newASRServer(t, http.StatusOK, "application/json", `{"text":"Hallo","language":"de"}`)
		buffer := &stubBuffer{audio: []byte("RIFFbuffered"), ok: true}
		resource := playback.NewFakeResource(25, true)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), buffer, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{Resource: resource, Window: testWindow})

		require.NoError(t, err)
		assert.Equal(t, "de", result.LanguageCode)
		assert.Equal(t, []byte("RIFFbuffered"), seen.audio)
		assert.Equal(t, 0, resource.CloneCalls)
	})

	t.Run("uncovered buffer falls back to the clone", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusOK, "application/json", `{"text":"Hallo"}`)
		buffer := &stubBuffer{ok: false}
		resource := playback.NewFakeResource(25, true)
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: server.URL}, server.Client(), buffer, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{Resource: resource, Window: testWindow})

		require.NoError(t, err)
		assert.Len(t, buffer.asked, 1)
		assert.Equal(t, 1, resource.CloneCalls)
	})

	t.Run("recording failure is a capture failure and releases the clone", func(t *testing.T) {
		resource := playback.NewFakeResource(25, true)
		resource.RecordFunc = func(ctx context.Context, window model.PlaybackWindow) ([]byte, error) {
			return nil, errors.New("decoder exited")
		}
		capture := NewSelfHostedCaptureWithClient(SelfHostedConfig{APIURL: "http://localhost:9"}, &http.Client{}, nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{Resource: resource, Window: testWindow})

		assert.True(t, apperrors.Is(err, apperrors.CodeCaptureFailed))
		require.Len(t, resource.Clones, 1)
		assert.True(t, resource.Clones[0].Closed)
	})
}

func TestSelfHostedBackend_Endpoint(t *testing.T) {
	tests := []struct {
		apiURL string
		want   string
	}{
		{"http://localhost:9001", "http://localhost:9001/asr"},
		{"http://localhost:9001/", "http://localhost:9001/asr"},
		{"http://asr.lan/whisper//", "http://asr.lan/whisper/asr"},
	}
	for _, tt := range tests {
		t.Run(tt.apiURL, func(t *testing.T) {
			b := &selfHostedBackend{cfg: SelfHostedConfig{APIURL: tt.apiURL}}
			assert.Equal(t, tt.want, b.endpoint())
		})
	}
}

func TestCloudCapture_Capture(t *testing.T) {
	logger := zap.NewNop().Sugar()

	t.Run("sends the OpenAI form with bearer auth", func(t *testing.T) {
		server, seen := newASRServer(t, http.StatusOK, "application/json",
			`{"task":"transcribe","language":"japanese","duration":15.0,"text":"こんにちは"}`)
		capture := NewCloudCaptureWithClient(CloudConfig{APIKey: "sk-test", Endpoint: server.URL + "/v1/audio/transcriptions"},
			server.Client(), nil, logger)

		result, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow, LanguageHint: "ja",
		})

		require.NoError(t, err)
		assert.Equal(t, &model.TranscriptionResult{Text: "こんにちは", LanguageCode: "ja"}, result)
		assert.Equal(t, "/v1/audio/transcriptions", seen.path)
		assert.Equal(t, "Bearer sk-test", seen.auth)
		assert.Equal(t, "file", seen.field)
		assert.Equal(t, audioFileName, seen.fileName)
		assert.Equal(t, "whisper-1", seen.fields["model"])
		assert.Equal(t, "verbose_json", seen.fields["response_format"])
		assert.Equal(t, "ja", seen.fields["language"])
	})

	t.Run("error object message is surfaced", func(t *testing.T) {
		server, _ := newASRServer(t, http.StatusUnauthorized, "application/json",
			`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
		capture := NewCloudCaptureWithClient(CloudConfig{APIKey: "sk-bad", Endpoint: server.URL}, server.Client(), nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{
			Resource: playback.NewFakeResource(25, true), Window: testWindow,
		})

		assert.True(t, apperrors.Is(err, apperrors.CodeRemoteError))
		assert.Contains(t, err.Error(), "Incorrect API key provided")
	})

	t.Run("missing key is a configuration error before any recording", func(t *testing.T) {
		resource := playback.NewFakeResource(25, true)
		capture := NewCloudCapture(CloudConfig{}, nil, logger)

		_, err := capture.Capture(context.Background(), CaptureRequest{Resource: resource, Window: testWindow})

		assert.True(t, apperrors.Is(err, apperrors.CodeMissingConfiguration))
		assert.True(t, apperrors.IsConfiguration(err))
		assert.Equal(t, 0, resource.CloneCalls)
	})
}

func TestParseTranscription(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantText    string
		wantLang    string
		wantErr     bool
	}{
		{name: "json with language", body: `{"text":"Hola","language":"spanish"}`, contentType: "application/json", wantText: "Hola", wantLang: "spanish"},
		{name: "undeclared json", body: `{"text":"Hola"}`, contentType: "", wantText: "Hola"},
		{name: "plain text", body: "hello\n", contentType: "text/plain", wantText: "hello"},
		{name: "plain text starting with a brace", body: "{laughs} hello", contentType: "text/plain", wantText: "{laughs} hello"},
		{name: "declared json that does not parse", body: `{"text":`, contentType: "application/json", wantErr: true},
		{name: "declared json that is plain text", body: "hello", contentType: "application/json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, lang, err := parseTranscription([]byte(tt.body), tt.contentType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantLang, lang)
		})
	}
}

func TestErrorDetail(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail":"bad audio"}`, "bad audio"},
		{"error string", `{"error":"quota"}`, "quota"},
		{"error object", `{"error":{"message":"slow down"}}`, "slow down"},
		{"plain text", "Internal Server Error", "Internal Server Error"},
		{"empty", "", "no detail provided"},
		{"truncated", string(long), string(long[:maxErrorDetail]) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorDetail([]byte(tt.body)))
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	logger := zap.NewNop().Sugar()

	assert.Equal(t, "es", NormalizeLanguage("spanish", logger))
	assert.Equal(t, "es", NormalizeLanguage("Spanish", logger))
	assert.Equal(t, "ja", NormalizeLanguage("ja", logger))
	assert.Equal(t, "ht", NormalizeLanguage("haitian creole", logger))
	assert.Equal(t, "", NormalizeLanguage("  ", logger))
	assert.Equal(t, "klingon", NormalizeLanguage("klingon", logger))
	assert.True(t, IsLanguageCode("EN"))
	assert.False(t, IsLanguageCode("english"))
}
