package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPTranslator talks to a LibreTranslate-compatible JSON API:
//
//	POST {apiURL}/translate {"q":..,"source":..,"target":..,"format":"text"}
//	200 {"translatedText": ..}
type HTTPTranslator struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewHTTPTranslator creates an HTTPTranslator; a nil client gets a default timeout
func NewHTTPTranslator(apiURL, apiKey string, httpClient *http.Client, logger *zap.SugaredLogger) *HTTPTranslator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPTranslator{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

type httpTranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type httpTranslateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := validateInput(text, sourceLang, targetLang); err != nil {
		return "", err
	}

	payload, err := json.Marshal(httpTranslateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode translation request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to build translation request")
	}
	req.Header.Set("Content-Type", "application/json")

	t.logger.Debugw("sending translation request", "url", req.URL.String(), "source", sourceLang, "target", targetLang)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", failed(err, ProviderHTTP, "translation service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failed(err, ProviderHTTP, "failed to read translation response")
	}

	var parsed httpTranslateResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if decodeErr == nil && parsed.Error != "" {
			detail = parsed.Error
		}
		return "", apperrors.New(apperrors.CodeTranslationFailed,
			fmt.Sprintf("translation service rejected the request (status %d): %s", resp.StatusCode, detail))
	}
	if decodeErr != nil {
		return "", failed(decodeErr, ProviderHTTP, "invalid translation response")
	}

	translated := strings.TrimSpace(parsed.TranslatedText)
	if translated == "" {
		return "", apperrors.New(apperrors.CodeTranslationFailed, "translation service returned an empty translation")
	}
	return translated, nil
}
