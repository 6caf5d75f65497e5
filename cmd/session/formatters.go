package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// Formatter defines interface for output formatting
type Formatter interface {
	Format(outcome *model.TranslationOutcome) (string, error)
}

// NewFormatter returns the formatter for an --output value
func NewFormatter(name string) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (expected text or json)", name)
	}
}

// TextFormatter formats output as plain text
type TextFormatter struct{}

func (f *TextFormatter) Format(outcome *model.TranslationOutcome) (string, error) {
	var output strings.Builder

	output.WriteString(fmt.Sprintf("[%s -> %s] %s-%s via %s\n",
		outcome.DetectedLanguage,
		outcome.TargetLanguage,
		formatPosition(outcome.Window.StartTime),
		formatPosition(outcome.Window.EndTime),
		outcome.Method))
	output.WriteString(fmt.Sprintf("  %s\n", outcome.OriginalText))
	output.WriteString(fmt.Sprintf("  => %s\n", outcome.TranslatedText))

	return output.String(), nil
}

// JSONFormatter formats output as JSON
type JSONFormatter struct{}

func (f *JSONFormatter) Format(outcome *model.TranslationOutcome) (string, error) {
	jsonBytes, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes) + "\n", nil
}

// formatPosition renders seconds as m:ss.t
func formatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int(seconds*10 + 0.5)
	minutes := tenths / 600
	rest := tenths % 600
	return fmt.Sprintf("%d:%02d.%d", minutes, rest/10, rest%10)
}
