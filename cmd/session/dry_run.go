package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
)

// DryRunResult describes the cycle a rewind would run
type DryRunResult struct {
	Source         string
	Method         model.TranscriptionMethod
	Window         model.PlaybackWindow
	SourceLang     string
	TargetLang     string
	Provider       string
	ResumePosition float64
}

// SimulateRewind validates settings and computes the window without touching media
func SimulateRewind(ctx context.Context, factory Factory, mediaSource string, at float64, overrides Overrides) (*DryRunResult, error) {
	cfg, strategy, err := factory.Plan(ctx, overrides)
	if err != nil {
		return nil, err
	}

	window := playback.CalculateWindow(at, cfg.RewindSeconds)
	resume := at
	if cfg.ReplayWindow {
		resume = window.StartTime
	}

	provider := cfg.Translation.Provider
	if provider == "" {
		provider = "http"
	}
	if cfg.Translation.Fallback != "" {
		provider += " (fallback " + cfg.Translation.Fallback + ")"
	}

	return &DryRunResult{
		Source:         mediaSource,
		Method:         strategy.Method(),
		Window:         window,
		SourceLang:     cfg.SourceLang,
		TargetLang:     cfg.TargetLang,
		Provider:       provider,
		ResumePosition: resume,
	}, nil
}

// FormatDryRun renders a DryRunResult
func FormatDryRun(result *DryRunResult) string {
	var output strings.Builder
	output.WriteString("DRY RUN: nothing will be played or translated\n")
	output.WriteString(fmt.Sprintf("Source: %s\n", result.Source))
	output.WriteString(fmt.Sprintf("Method: %s\n", result.Method))
	output.WriteString(fmt.Sprintf("Window: %s-%s (%.1fs)\n",
		formatPosition(result.Window.StartTime), formatPosition(result.Window.EndTime), result.Window.Duration))
	output.WriteString(fmt.Sprintf("Languages: %s -> %s\n", result.SourceLang, result.TargetLang))
	output.WriteString(fmt.Sprintf("Translation: %s\n", result.Provider))
	output.WriteString(fmt.Sprintf("Resume at: %s\n", formatPosition(result.ResumePosition)))
	return output.String()
}
