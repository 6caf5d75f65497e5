package translation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

// Provider names accepted in configuration
const (
	ProviderHTTP   = "http"
	ProviderOllama = "ollama"
	ProviderPlamo  = "plamo"
)

// Translator translates a piece of text between two ISO 639-1 languages
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Config selects and configures a translation provider
type Config struct {
	Provider string
	APIURL   string
	APIKey   string
	Model    string
	Command  string
	// Fallback names a second provider tried when the first fails
	Fallback string
}

// New builds the configured translator
func New(cfg Config, cmdRunner common.CmdRunner, logger *zap.SugaredLogger) (Translator, error) {
	primary, err := newProvider(cfg.Provider, cfg, cmdRunner, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == "" || cfg.Fallback == cfg.Provider {
		return primary, nil
	}

	fallback, err := newProvider(cfg.Fallback, cfg, cmdRunner, logger)
	if err != nil {
		return nil, err
	}
	return NewFallbackTranslator(logger, primary, fallback), nil
}

func newProvider(provider string, cfg Config, cmdRunner common.CmdRunner, logger *zap.SugaredLogger) (Translator, error) {
	switch strings.ToLower(provider) {
	case "", ProviderHTTP:
		if cfg.APIURL == "" {
			return nil, apperrors.New(apperrors.CodeMissingConfiguration, "translation.api_url is not set")
		}
		return NewHTTPTranslator(cfg.APIURL, cfg.APIKey, nil, logger), nil
	case ProviderOllama:
		if cfg.APIURL == "" {
			return nil, apperrors.New(apperrors.CodeMissingConfiguration, "translation.api_url is not set for ollama")
		}
		return NewOllamaTranslator(cfg.APIURL, cfg.Model, nil, logger), nil
	case ProviderPlamo:
		return NewPlamoTranslator(cmdRunner, cfg.Command, logger), nil
	default:
		return nil, apperrors.New(apperrors.CodeMissingConfiguration,
			fmt.Sprintf("unknown translation provider %q (expected http, ollama or plamo)", provider))
	}
}

// validateInput rejects requests no provider can serve
func validateInput(text, sourceLang, targetLang string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.New(apperrors.CodeInvalidArg, "text cannot be empty")
	}
	if sourceLang == "" || targetLang == "" {
		return apperrors.New(apperrors.CodeInvalidArg, "source and target languages are required")
	}
	return nil
}

// failed wraps a provider error as a translation failure
func failed(err error, provider, message string) error {
	if apperrors.CodeOf(err) == apperrors.CodeTranslationFailed {
		return err
	}
	return apperrors.Wrap(err, apperrors.CodeTranslationFailed, provider+": "+message)
}

// FallbackTranslator tries each translator in turn and returns the first success
type FallbackTranslator struct {
	translators []Translator
	logger      *zap.SugaredLogger
}

// NewFallbackTranslator creates a translator chain
func NewFallbackTranslator(logger *zap.SugaredLogger, translators ...Translator) *FallbackTranslator {
	return &FallbackTranslator{translators: translators, logger: logger}
}

func (f *FallbackTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var lastErr error
	for i, t := range f.translators {
		translated, err := t.Translate(ctx, text, sourceLang, targetLang)
		if err == nil {
			return translated, nil
		}
		if ctx.Err() != nil {
			return "", apperrors.Wrap(ctx.Err(), apperrors.CodeCanceled, "translation canceled")
		}
		if apperrors.Is(err, apperrors.CodeInvalidArg) {
			return "", err
		}
		f.logger.Warnw("translator failed, trying next", "index", i, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		return "", apperrors.New(apperrors.CodeMissingConfiguration, "no translator configured")
	}
	return "", lastErr
}
