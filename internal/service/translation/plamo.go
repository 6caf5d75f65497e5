package translation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

const defaultPlamoCommand = "plamo-translate"

// PlamoTranslator translates with the PLaMo CLI
type PlamoTranslator struct {
	cmdRunner common.CmdRunner
	command   string
	logger    *zap.SugaredLogger
}

// NewPlamoTranslator creates a PLaMo translator; an empty command uses plamo-translate
func NewPlamoTranslator(cmdRunner common.CmdRunner, command string, logger *zap.SugaredLogger) *PlamoTranslator {
	if command == "" {
		command = defaultPlamoCommand
	}
	return &PlamoTranslator{
		cmdRunner: cmdRunner,
		command:   command,
		logger:    logger,
	}
}

// Translate translates text using PLaMo CLI (simple mode - not server)
func (t *PlamoTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := validateInput(text, sourceLang, targetLang); err != nil {
		return "", err
	}

	fromLangPLaMo := mapLanguageToPLaMo(sourceLang)
	toLangPLaMo := mapLanguageToPLaMo(targetLang)
	if fromLangPLaMo == "" || toLangPLaMo == "" {
		return "", apperrors.New(apperrors.CodeTranslationFailed,
			fmt.Sprintf("PLaMo does not support %s -> %s", sourceLang, targetLang))
	}

	args := []string{
		"--from", fromLangPLaMo,
		"--to", toLangPLaMo,
		"--input", text,
	}

	t.logger.Debugw("running PLaMo", "from", fromLangPLaMo, "to", toLangPLaMo)

	output, err := t.cmdRunner.Run(ctx, t.command, args...)
	if err != nil {
		return "", failed(err, ProviderPlamo, "PLaMo CLI execution failed")
	}

	result := strings.TrimSpace(string(output))
	if result == "" {
		return "", apperrors.New(apperrors.CodeTranslationFailed, "empty response from PLaMo")
	}
	return result, nil
}

// mapLanguageToPLaMo maps our language codes to PLaMo language names
func mapLanguageToPLaMo(lang string) string {
	switch strings.ToLower(lang) {
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	case "zh":
		return "Chinese"
	case "ko":
		return "Korean"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "it":
		return "Italian"
	case "ru":
		return "Russian"
	case "ar":
		return "Arabic"
	case "vi":
		return "Vietnamese"
	case "th":
		return "Thai"
	case "id":
		return "Indonesian"
	case "nl":
		return "Dutch"
	case "pt":
		return "Portuguese"
	default:
		return ""
	}
}
