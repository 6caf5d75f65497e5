package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Taichi-iskw/rewind-lang/cmd/session"
	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/logging"
)

var (
	verbose bool
	logger  = zap.NewNop().Sugar()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rewindlang",
	Short: "Rewind a podcast and hear the last seconds translated",
	Long: `rewindlang plays podcasts and videos and, on request, rewinds a few
seconds, transcribes them, translates the text and speaks it before
playback continues where you left off.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if code := apperrors.CodeOf(err); code != "" {
			fmt.Fprintln(os.Stderr, apperrors.UserMessage(err))
		}
		os.Exit(1)
	}
}

func currentLogger() *zap.SugaredLogger {
	return logger
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose development logging")

	for _, command := range session.NewCommands(session.NewServiceFactory(currentLogger)) {
		rootCmd.AddCommand(command)
	}
}
