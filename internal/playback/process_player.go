package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/service/common"
)

// frameBytes is 100ms of PCM
const frameBytes = BytesPerSecond / 10

const reloadTimeout = 30 * time.Second

// ProcessPlayer plays a media source through ffmpeg and ffplay.
// ffmpeg decodes to real-time PCM which is pumped to an ffplay sink and
// published on a FanoutTap; position is derived from PCM consumed.
type ProcessPlayer struct {
	runner common.CmdRunner
	source string
	logger *zap.SugaredLogger

	mu       sync.Mutex
	position float64
	duration float64
	paused   bool
	ready    chan struct{}
	isReady  bool
	tapUsed  bool
	tap      *FanoutTap

	stop     context.CancelFunc
	pumpDone chan struct{}
}

// NewProcessPlayer creates a paused, not-yet-loaded player for source
func NewProcessPlayer(runner common.CmdRunner, source string, logger *zap.SugaredLogger) *ProcessPlayer {
	return &ProcessPlayer{
		runner: runner,
		source: source,
		logger: logger,
		paused: true,
		ready:  make(chan struct{}),
		tap:    NewFanoutTap(),
	}
}

// Load probes the source and marks the player ready
func (p *ProcessPlayer) Load(ctx context.Context) error {
	output, err := p.runner.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		p.source,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodePlaybackFailed, fmt.Sprintf("failed to probe %s", p.source))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		// Live streams report N/A
		duration = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.duration = duration
	if !p.isReady {
		p.isReady = true
		close(p.ready)
	}
	p.logger.Debugw("media loaded", "source", p.source, "duration", duration)
	return nil
}

// recoverSource reloads after a decoder failure
func (p *ProcessPlayer) recoverSource() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := p.Reload(ctx); err != nil {
		p.logger.Errorw("failed to reload source", "source", p.source, "error", err)
	}
}

// Reload pauses, drops readiness and loads the source again
func (p *ProcessPlayer) Reload(ctx context.Context) error {
	if err := p.Pause(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.isReady {
		p.isReady = false
		p.ready = make(chan struct{})
	}
	p.mu.Unlock()
	return p.Load(ctx)
}

func (p *ProcessPlayer) Source() string {
	return p.source
}

func (p *ProcessPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Duration returns the probed duration in seconds, 0 if unknown
func (p *ProcessPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *ProcessPlayer) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *ProcessPlayer) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isReady
}

func (p *ProcessPlayer) Ready() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Seek moves the playhead; playing players restart at the new position
func (p *ProcessPlayer) Seek(position float64) error {
	p.mu.Lock()
	if !p.isReady {
		p.mu.Unlock()
		return nil
	}
	if position < 0 {
		position = 0
	}
	if p.duration > 0 && position > p.duration {
		position = p.duration
	}
	wasPlaying := !p.paused
	p.mu.Unlock()

	if wasPlaying {
		p.halt()
	}

	p.mu.Lock()
	p.position = position
	p.mu.Unlock()

	if wasPlaying {
		return p.Play(context.Background())
	}
	return nil
}

// Play starts the decoder and sink at the current position
func (p *ProcessPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isReady {
		return apperrors.New(apperrors.CodePlaybackFailed, "cannot play before the source is loaded")
	}
	if !p.paused {
		return nil
	}
	if p.stop != nil {
		// decoder reached the end on its own; release its context
		p.stop()
		p.stop, p.pumpDone = nil, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	decoder, err := p.runner.StartPiped(runCtx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-re",
		"-ss", formatSeconds(p.position),
		"-i", p.source,
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	)
	if err != nil {
		cancel()
		return apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to start decoder")
	}

	sink, err := p.runner.StartPiped(runCtx, "ffplay",
		"-hide_banner",
		"-loglevel", "error",
		"-nodisp",
		"-autoexit",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", "pipe:0",
	)
	if err != nil {
		cancel()
		decoder.Kill()
		return apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to start audio output")
	}

	p.paused = false
	p.stop = cancel
	p.pumpDone = make(chan struct{})
	go p.pump(runCtx, decoder, sink, p.pumpDone)

	p.logger.Debugw("playback started", "source", p.source, "position", p.position)
	return nil
}

// Pause stops playback; pausing a paused player is a no-op
func (p *ProcessPlayer) Pause() error {
	p.halt()
	return nil
}

func (p *ProcessPlayer) halt() {
	p.mu.Lock()
	stop, done := p.stop, p.pumpDone
	p.stop, p.pumpDone = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done

	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// pump moves decoded PCM to the sink and the tap, advancing the position
func (p *ProcessPlayer) pump(ctx context.Context, decoder, sink common.PipedProcess, done chan struct{}) {
	defer close(done)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			decoder.Kill()
			sink.Kill()
		case <-stopped:
		}
	}()

	defer func() {
		sink.Stdin().Close()
		decoder.Kill()
		sink.Kill()
		decoder.Wait()
		sink.Wait()
	}()

	sinkOK := true
	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(decoder.Stdout(), buf)
		if n > 0 {
			n &^= BytesPerSample - 1
			pcm := make([]byte, n)
			copy(pcm, buf[:n])

			if sinkOK {
				if _, werr := sink.Stdin().Write(pcm); werr != nil {
					p.logger.Warnw("audio output closed", "error", werr)
					sinkOK = false
				}
			}

			p.mu.Lock()
			frame := Frame{Position: p.position, PCM: pcm}
			p.position = frame.End()
			p.mu.Unlock()

			p.tap.Publish(frame)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				p.logger.Debugw("decoder stopped", "error", err)
			}
			failed := false
			if ctx.Err() == nil {
				if werr := decoder.Wait(); werr != nil {
					p.logger.Warnw("decoder failed, reloading source", "source", p.source, "position", p.CurrentTime(), "error", werr)
					failed = true
				}
			}

			p.mu.Lock()
			p.paused = true
			if failed && p.isReady {
				// Seek and Play wait for the reload to finish
				p.isReady = false
				p.ready = make(chan struct{})
			}
			p.mu.Unlock()

			if failed {
				go p.recoverSource()
			}
			return
		}
	}
}

// AttachTap hands out the player's tap once
func (p *ProcessPlayer) AttachTap() (Tap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tapUsed {
		return nil, ErrTapAlreadyAttached
	}
	p.tapUsed = true
	return p.tap, nil
}

// Clone returns a muted recorder over the same source
func (p *ProcessPlayer) Clone() (Clone, error) {
	return &processClone{runner: p.runner, source: p.source}, nil
}

// processClone records a window with a one-off ffmpeg run; nothing is played
type processClone struct {
	runner common.CmdRunner
	source string
	closed bool
}

func (c *processClone) Record(ctx context.Context, window model.PlaybackWindow) ([]byte, error) {
	if c.closed {
		return nil, apperrors.New(apperrors.CodeInternal, "clone already closed")
	}
	if window.Duration <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArg, "window has no duration")
	}

	output, err := c.runner.Run(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(window.StartTime),
		"-t", formatSeconds(window.Duration),
		"-i", c.source,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "wav",
		"pipe:1",
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "failed to record segment")
	}
	if len(output) == 0 {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "recorded segment is empty")
	}
	return output, nil
}

func (c *processClone) Close() error {
	c.closed = true
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
