package transcription

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

const (
	defaultCloudEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	defaultCloudModel    = "whisper-1"
	audioFileName        = "segment.wav"
)

// CloudConfig configures the OpenAI-compatible cloud backend
type CloudConfig struct {
	APIKey   string
	Endpoint string // defaults to the OpenAI transcription endpoint
	Model    string // defaults to whisper-1
}

// SelfHostedConfig configures a whisper-asr-webservice backend
type SelfHostedConfig struct {
	APIURL string // e.g. http://localhost:9000
}

// NewCloudCapture creates the cloud transcription strategy
func NewCloudCapture(cfg CloudConfig, buffer WindowBuffer, logger *zap.SugaredLogger) *RemoteCapture {
	return newRemoteCapture(&cloudBackend{cfg: cfg}, nil, buffer, logger)
}

// NewCloudCaptureWithClient creates the cloud strategy with a custom HTTP client (for testing)
func NewCloudCaptureWithClient(cfg CloudConfig, httpClient *http.Client, buffer WindowBuffer, logger *zap.SugaredLogger) *RemoteCapture {
	return newRemoteCapture(&cloudBackend{cfg: cfg}, httpClient, buffer, logger)
}

// NewSelfHostedCapture creates the self-hosted transcription strategy
func NewSelfHostedCapture(cfg SelfHostedConfig, buffer WindowBuffer, logger *zap.SugaredLogger) *RemoteCapture {
	return newRemoteCapture(&selfHostedBackend{cfg: cfg}, nil, buffer, logger)
}

// NewSelfHostedCaptureWithClient creates the self-hosted strategy with a custom HTTP client (for testing)
func NewSelfHostedCaptureWithClient(cfg SelfHostedConfig, httpClient *http.Client, buffer WindowBuffer, logger *zap.SugaredLogger) *RemoteCapture {
	return newRemoteCapture(&selfHostedBackend{cfg: cfg}, httpClient, buffer, logger)
}

type cloudBackend struct {
	cfg CloudConfig
}

func (b *cloudBackend) name() string {
	return "cloud"
}

func (b *cloudBackend) method() model.TranscriptionMethod {
	return model.MethodCloud
}

func (b *cloudBackend) validate() error {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return apperrors.New(apperrors.CodeMissingConfiguration, "cloud transcription API key is not set")
	}
	return nil
}

func (b *cloudBackend) endpoint() string {
	if b.cfg.Endpoint != "" {
		return b.cfg.Endpoint
	}
	return defaultCloudEndpoint
}

func (b *cloudBackend) newRequest(ctx context.Context, audio []byte, language string) (*http.Request, error) {
	modelName := b.cfg.Model
	if modelName == "" {
		modelName = defaultCloudModel
	}

	fields := map[string]string{
		"model":           modelName,
		"response_format": "verbose_json",
	}
	if language != "" && language != model.LanguageAuto {
		fields["language"] = language
	}

	body, contentType, err := multipartBody("file", audio, fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	return req, nil
}

type selfHostedBackend struct {
	cfg SelfHostedConfig
}

func (b *selfHostedBackend) name() string {
	return "self-hosted"
}

func (b *selfHostedBackend) method() model.TranscriptionMethod {
	return model.MethodSelfHosted
}

func (b *selfHostedBackend) validate() error {
	if strings.TrimSpace(b.cfg.APIURL) == "" {
		return apperrors.New(apperrors.CodeMissingConfiguration, "self-hosted transcription api_url is not set")
	}
	if _, err := url.Parse(b.cfg.APIURL); err != nil {
		return apperrors.Wrap(err, apperrors.CodeMissingConfiguration, "self-hosted transcription api_url is invalid")
	}
	return nil
}

// endpoint joins the configured base URL and /asr without doubling slashes
func (b *selfHostedBackend) endpoint() string {
	return strings.TrimRight(strings.TrimSpace(b.cfg.APIURL), "/") + "/asr"
}

func (b *selfHostedBackend) newRequest(ctx context.Context, audio []byte, language string) (*http.Request, error) {
	query := url.Values{}
	query.Set("task", "transcribe")
	query.Set("output", "json")
	query.Set("encode", "true")
	if language != "" && language != model.LanguageAuto {
		query.Set("language", language)
	}

	body, contentType, err := multipartBody("audio_file", audio, nil)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint()+"?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// multipartBody builds a form with the audio under fileField plus extra fields
func multipartBody(fileField string, audio []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(fileField, audioFileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
