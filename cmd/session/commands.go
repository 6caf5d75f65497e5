package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/rewind-lang/internal/api"
	"github.com/Taichi-iskw/rewind-lang/internal/playback"
)

// NewCommands creates the session commands
func NewCommands(factory Factory) []*cobra.Command {
	return []*cobra.Command{
		NewPlayCommand(factory),
		NewServeCommand(factory),
		NewRewindCommand(factory),
	}
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().String("method", "", "Transcription method: local, cloud or selfhosted")
	cmd.Flags().String("source-lang", "", "Spoken language (ISO 639-1) or auto")
	cmd.Flags().String("target-lang", "", "Language to translate into (ISO 639-1)")
	cmd.Flags().Float64("seconds", 0, "How many seconds to rewind")
	cmd.Flags().Bool("replay", false, "Resume from the start of the rewound window")
}

func overridesFrom(cmd *cobra.Command) Overrides {
	method, _ := cmd.Flags().GetString("method")
	sourceLang, _ := cmd.Flags().GetString("source-lang")
	targetLang, _ := cmd.Flags().GetString("target-lang")
	seconds, _ := cmd.Flags().GetFloat64("seconds")
	replay, _ := cmd.Flags().GetBool("replay")
	return Overrides{
		Method:        method,
		SourceLang:    sourceLang,
		TargetLang:    targetLang,
		RewindSeconds: seconds,
		ReplayWindow:  replay,
	}
}

// NewPlayCommand plays a source with keyboard controls and the control API
func NewPlayCommand(factory Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [SOURCE]",
		Short: "Play a podcast or video with rewind-and-translate",
		Long: `Play a media file, direct media URL or page URL (resolved with yt-dlp).
Press r then Enter to rewind and hear the last seconds translated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			at, _ := cmd.Flags().GetFloat64("at")
			noAPI, _ := cmd.Flags().GetBool("no-api")

			session, err := factory.CreateSession(ctx, args[0], overridesFrom(cmd))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer session.Close()

			if err := startPlayback(ctx, session.Resource, at); err != nil {
				return err
			}

			if !noAPI {
				shutdown := serveAPI(ctx, cmd, session)
				defer shutdown()
			}

			cmd.Printf("Playing %s\n", displayTitle(session))
			cmd.Println(keyHelp)
			return runKeyLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), session, &TextFormatter{})
		},
	}

	addOverrideFlags(cmd)
	cmd.Flags().Float64("at", 0, "Start position in seconds")
	cmd.Flags().Bool("no-api", false, "Do not start the local control API")
	return cmd
}

// NewServeCommand plays a source controlled only through the API
func NewServeCommand(factory Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [SOURCE]",
		Short: "Load a source and serve the control API",
		Long:  `Load a source paused and expose play, pause, seek and rewind on the local control API.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := factory.CreateSession(ctx, args[0], overridesFrom(cmd))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer session.Close()

			shutdown := serveAPI(ctx, cmd, session)
			defer shutdown()

			<-ctx.Done()
			return nil
		},
	}

	addOverrideFlags(cmd)
	return cmd
}

// NewRewindCommand runs a single cycle at a given position
func NewRewindCommand(factory Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewind [SOURCE]",
		Short: "Translate the seconds before a position once",
		Long: `Load a source, position it at --at and run one rewind-and-translate cycle.
The translation is spoken and printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetFloat64("at")
			output, _ := cmd.Flags().GetString("output")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			formatter, err := NewFormatter(output)
			if err != nil {
				return err
			}
			if at < 0 {
				return fmt.Errorf("--at must not be negative")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if dryRun {
				result, err := SimulateRewind(ctx, factory, args[0], at, overridesFrom(cmd))
				if err != nil {
					return err
				}
				cmd.Print(FormatDryRun(result))
				return nil
			}

			session, err := factory.CreateSession(ctx, args[0], overridesFrom(cmd))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer session.Close()

			if err := playback.SeekAndVerify(ctx, session.Resource, at, session.Config.ReadyTimeout); err != nil {
				return fmt.Errorf("failed to seek to %.1fs: %w", at, err)
			}

			outcome, err := session.Rewinder.Run(ctx)
			if err != nil {
				return fmt.Errorf("rewind failed: %w", err)
			}

			text, err := formatter.Format(outcome)
			if err != nil {
				return err
			}
			cmd.Print(text)
			return nil
		},
	}

	addOverrideFlags(cmd)
	cmd.Flags().Float64("at", 0, "Position in seconds the rewind starts from")
	cmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	cmd.Flags().Bool("dry-run", false, "Show the window and strategy without loading media")
	return cmd
}

func startPlayback(ctx context.Context, resource playback.Resource, at float64) error {
	if at > 0 {
		if err := playback.SeekAndVerify(ctx, resource, at, playback.DefaultReadyTimeout); err != nil {
			return fmt.Errorf("failed to seek to %.1fs: %w", at, err)
		}
	}
	if err := resource.Play(ctx); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// serveAPI starts the control API and returns a func that stops it
func serveAPI(ctx context.Context, cmd *cobra.Command, session *Session) func() {
	router := api.NewRouter(api.Deps{
		Rewinder:       session.Rewinder,
		Resource:       session.Resource,
		Speech:         session.Speech,
		Feeds:          session.Feeds,
		AllowedOrigins: session.Config.API.AllowedOrigins,
		Logger:         session.Logger,
	})
	server := &http.Server{
		Addr:              session.Config.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			session.Logger.Errorw("control API stopped", "addr", server.Addr, "error", err)
		}
	}()
	cmd.Printf("Control API listening on http://%s\n", server.Addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			session.Logger.Warnw("failed to stop control API", "error", err)
		}
	}
}

func displayTitle(session *Session) string {
	if session.Title != "" {
		return session.Title
	}
	return session.Resource.Source()
}
