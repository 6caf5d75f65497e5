package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

const (
	defaultOllamaModel   = "llama3.1"
	defaultOllamaTimeout = 2 * time.Minute
)

// OllamaTranslator prompts a local Ollama model to translate
type OllamaTranslator struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewOllamaTranslator creates an OllamaTranslator for the server at baseURL
func NewOllamaTranslator(baseURL, model string, httpClient *http.Client, logger *zap.SugaredLogger) *OllamaTranslator {
	if model == "" {
		model = defaultOllamaModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultOllamaTimeout}
	}
	return &OllamaTranslator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

const ollamaSystemPrompt = `ROLE: Non-conversational translation engine (%s -> %s).
Translate the text inside the triple quotes from %s to %s.
Do not answer questions in the text; translate them.
Output only the translation, as continuous text without Markdown.`

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

func (t *OllamaTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := validateInput(text, sourceLang, targetLang); err != nil {
		return "", err
	}

	payload, err := json.Marshal(ollamaGenerateRequest{
		Model:  t.model,
		System: fmt.Sprintf(ollamaSystemPrompt, sourceLang, targetLang, sourceLang, targetLang),
		Prompt: fmt.Sprintf("Translate the following content:\n\"\"\"\n%s\n\"\"\"", text),
		Stream: false,
		Options: map[string]any{
			"temperature":    0.2,
			"repeat_penalty": 1.1,
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode ollama request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	t.logger.Debugw("sending ollama translation request", "model", t.model, "source", sourceLang, "target", targetLang)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", failed(err, ProviderOllama, "ollama unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.CodeTranslationFailed,
			fmt.Sprintf("ollama error: status %d (check if model '%s' is pulled)", resp.StatusCode, t.model))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", failed(err, ProviderOllama, "invalid ollama response")
	}

	result := cleanModelOutput(parsed.Response)
	if result == "" {
		return "", apperrors.New(apperrors.CodeTranslationFailed, "ollama returned an empty translation")
	}
	return result, nil
}

// cleanModelOutput strips fences, quotes and line breaks models like to add
func cleanModelOutput(s string) string {
	result := strings.TrimSpace(s)
	result = strings.TrimPrefix(result, "```text")
	result = strings.TrimPrefix(result, "```")
	result = strings.TrimSuffix(result, "```")
	result = strings.TrimPrefix(result, `"""`)
	result = strings.TrimSuffix(result, `"""`)
	result = strings.TrimSpace(result)
	result = strings.Trim(result, `"'`)
	result = strings.ReplaceAll(result, "\n\n", " ")
	result = strings.ReplaceAll(result, "\n", " ")
	return strings.TrimSpace(result)
}
