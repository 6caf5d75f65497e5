package source

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

// Resolver turns what the user typed into something ffmpeg can open
type Resolver interface {
	// Resolve returns a playable location and a display title
	Resolve(ctx context.Context, source string) (*Resolved, error)
}

// Resolved is a playable media location
type Resolved struct {
	Location string
	Title    string
}

// mediaExtensions are opened directly without yt-dlp
var mediaExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true,
	".wav": true, ".flac": true, ".webm": true, ".mp4": true,
}

// ytdlpResolver resolves page URLs to direct audio streams using yt-dlp
type ytdlpResolver struct {
	cmdRunner common.CmdRunner
	logger    *zap.SugaredLogger
}

// NewResolver creates a Resolver with the default CmdRunner
func NewResolver(logger *zap.SugaredLogger) Resolver {
	return NewResolverWithCmdRunner(common.NewCmdRunner(), logger)
}

// NewResolverWithCmdRunner creates a Resolver with custom CmdRunner (for testing)
func NewResolverWithCmdRunner(cmdRunner common.CmdRunner, logger *zap.SugaredLogger) Resolver {
	return &ytdlpResolver{
		cmdRunner: cmdRunner,
		logger:    logger,
	}
}

func (r *ytdlpResolver) Resolve(ctx context.Context, source string) (*Resolved, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New(errors.CodeInvalidArg, "media source is required")
	}

	parsed, err := url.Parse(source)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return resolveFile(source)
	}

	if mediaExtensions[strings.ToLower(path.Ext(parsed.Path))] {
		return &Resolved{Location: source, Title: path.Base(parsed.Path)}, nil
	}

	return r.resolvePage(ctx, source)
}

// resolvePage asks yt-dlp for the best audio-only stream of a page URL
func (r *ytdlpResolver) resolvePage(ctx context.Context, pageURL string) (*Resolved, error) {
	if _, err := r.cmdRunner.LookPath("yt-dlp"); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnsupportedCapability,
			"yt-dlp is required to play page URLs; pass a direct media URL or install yt-dlp")
	}

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"-f", "bestaudio/best",
		"--print", "title",
		"--print", "urls",
		pageURL,
	}

	output, err := r.cmdRunner.Run(ctx, "yt-dlp", args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "yt-dlp could not resolve the media URL")
	}

	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, errors.New(errors.CodeExternal, "yt-dlp returned no stream URL")
	}

	resolved := &Resolved{Location: lines[len(lines)-1]}
	if len(lines) > 1 {
		resolved.Title = lines[0]
	}
	r.logger.Debugw("resolved page URL", "page", pageURL, "title", resolved.Title)
	return resolved, nil
}

func resolveFile(source string) (*Resolved, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidArg, "invalid media path")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNotFound, "media file not found: "+source)
	}
	if info.IsDir() {
		return nil, errors.New(errors.CodeInvalidArg, "media source is a directory: "+source)
	}
	return &Resolved{Location: abs, Title: strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))}, nil
}
