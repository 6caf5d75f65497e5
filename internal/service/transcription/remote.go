package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

const (
	defaultRemoteTimeout = 2 * time.Minute
	maxErrorDetail       = 300
)

// WindowBuffer supplies pre-recorded audio for a window, e.g. *playback.RollingBuffer
type WindowBuffer interface {
	Window(window model.PlaybackWindow) ([]byte, bool)
}

// remoteBackend is the per-service part of a remote transcription
type remoteBackend interface {
	name() string
	method() model.TranscriptionMethod
	validate() error
	newRequest(ctx context.Context, audio []byte, language string) (*http.Request, error)
}

// RemoteCapture sends a window's audio to a transcription service.
// Audio comes from the rolling buffer when it covers the window, otherwise
// from a disposable clone so the visible resource's tap is never consumed.
type RemoteCapture struct {
	backend    remoteBackend
	httpClient *http.Client
	buffer     WindowBuffer
	logger     *zap.SugaredLogger
}

func newRemoteCapture(backend remoteBackend, httpClient *http.Client, buffer WindowBuffer, logger *zap.SugaredLogger) *RemoteCapture {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRemoteTimeout}
	}
	return &RemoteCapture{
		backend:    backend,
		httpClient: httpClient,
		buffer:     buffer,
		logger:     logger,
	}
}

func (c *RemoteCapture) Method() model.TranscriptionMethod {
	return c.backend.method()
}

func (c *RemoteCapture) Validate() error {
	return c.backend.validate()
}

// Capture obtains the window's audio and transcribes it remotely
func (c *RemoteCapture) Capture(ctx context.Context, req CaptureRequest) (*model.TranscriptionResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	audio, err := c.payload(ctx, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.backend.newRequest(ctx, audio, req.LanguageHint)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to build transcription request")
	}

	c.logger.Debugw("sending transcription request",
		"backend", c.backend.name(), "url", httpReq.URL.String(), "bytes", len(audio))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "transcription request canceled")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeConnectionFailed,
			fmt.Sprintf("cannot reach %s transcription service", c.backend.name()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConnectionFailed, "failed to read transcription response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.New(apperrors.CodeRemoteError,
			fmt.Sprintf("%s transcription service error (status %d): %s", c.backend.name(), resp.StatusCode, errorDetail(body)))
	}

	text, detected, err := parseTranscription(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeRemoteError,
			fmt.Sprintf("%s transcription service returned malformed JSON", c.backend.name()))
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.CodeNoSpeechDetected, "transcription service returned an empty transcript")
	}

	language := hintOrAuto(req.LanguageHint)
	if detected != "" {
		language = NormalizeLanguage(detected, c.logger)
	}

	return &model.TranscriptionResult{
		Text:         strings.TrimSpace(text),
		LanguageCode: language,
	}, nil
}

func (c *RemoteCapture) payload(ctx context.Context, req CaptureRequest) ([]byte, error) {
	if c.buffer != nil {
		if audio, ok := c.buffer.Window(req.Window); ok {
			c.logger.Debugw("using buffered audio", "start", req.Window.StartTime, "end", req.Window.EndTime)
			return audio, nil
		}
	}

	if req.Resource == nil {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "no buffered audio and no resource to record from")
	}
	clone, err := req.Resource.Clone()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "failed to clone playback resource")
	}
	defer clone.Close()

	audio, err := clone.Record(ctx, req.Window)
	if err != nil {
		if apperrors.CodeOf(err) != "" {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "failed to record segment")
	}
	return audio, nil
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// parseTranscription accepts a JSON body with optional language or plain text.
// A body declared as JSON must parse; an undeclared one that fails is plain text.
func parseTranscription(body []byte, contentType string) (text, language string, err error) {
	trimmed := strings.TrimSpace(string(body))
	declaredJSON := strings.Contains(contentType, "json")
	if declaredJSON || strings.HasPrefix(trimmed, "{") {
		var parsed transcriptionResponse
		jsonErr := json.Unmarshal(body, &parsed)
		if jsonErr == nil {
			return parsed.Text, parsed.Language, nil
		}
		if declaredJSON {
			return "", "", jsonErr
		}
	}
	return trimmed, "", nil
}

// errorDetail extracts a server-provided message from an error body
func errorDetail(body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case len(parsed.Detail) > 0:
			detail = rawMessageText(parsed.Detail)
		case len(parsed.Error) > 0:
			detail = rawMessageText(parsed.Error)
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	if detail == "" {
		return "no detail provided"
	}
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	return detail
}

// rawMessageText handles "string", {"message": "..."} and anything else verbatim
func rawMessageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var withMessage struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &withMessage); err == nil && withMessage.Message != "" {
		return withMessage.Message
	}
	return string(raw)
}
