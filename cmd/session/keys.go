package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
)

const keyHelp = "Keys: r (or Enter) rewind | p play/pause | s stop speech | q quit"

// syncWriter serializes writes from the key loop and running cycles
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runKeyLoop reads one command per line until q, ctx ends or input closes and ctx ends
func runKeyLoop(ctx context.Context, in io.Reader, out io.Writer, session *Session, formatter Formatter) error {
	w := &syncWriter{w: out}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var cycles sync.WaitGroup
	defer cycles.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep playing until interrupted
				lines = nil
				continue
			}

			switch strings.ToLower(strings.TrimSpace(line)) {
			case "", "r":
				cycles.Add(1)
				go func() {
					defer cycles.Done()
					rewindOnce(ctx, w, session, formatter)
				}()
			case "p":
				togglePlayback(ctx, w, session)
			case "s":
				if session.Speech != nil {
					session.Speech.Cancel()
				}
			case "q", "quit":
				return nil
			default:
				fmt.Fprintln(w, keyHelp)
			}
		}
	}
}

func rewindOnce(ctx context.Context, w io.Writer, session *Session, formatter Formatter) {
	fmt.Fprintln(w, "Rewinding...")
	outcome, err := session.Rewinder.Run(ctx)
	if err != nil {
		fmt.Fprintf(w, "Rewind failed: %s\n", apperrors.UserMessage(err))
		return
	}
	text, err := formatter.Format(outcome)
	if err != nil {
		fmt.Fprintf(w, "Failed to format result: %v\n", err)
		return
	}
	fmt.Fprint(w, text)
}

func togglePlayback(ctx context.Context, w io.Writer, session *Session) {
	paused := false
	err := session.Rewinder.Control(func() error {
		if session.Resource.IsPaused() {
			return session.Resource.Play(ctx)
		}
		if err := session.Resource.Pause(); err != nil {
			return apperrors.Wrap(err, apperrors.CodePlaybackFailed, "failed to pause playback")
		}
		paused = true
		return nil
	})
	if err != nil {
		fmt.Fprintf(w, "Playback unchanged: %s\n", apperrors.UserMessage(err))
		return
	}
	if paused {
		fmt.Fprintf(w, "Paused at %s\n", formatPosition(session.Resource.CurrentTime()))
	}
}
