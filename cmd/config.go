package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/rewind-lang/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
	Long:  `Manage configuration settings for rewindlang.`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init [DATABASE_URL]",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with transcription, translation and database settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var databaseURL string
		if len(args) > 0 {
			databaseURL = args[0]
		}
		asrURL, _ := cmd.Flags().GetString("asr-url")

		if err := config.InitConfig(databaseURL, asrURL); err != nil {
			return err
		}

		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		cmd.Printf("Created configuration file: %s\n", configPath)
		cmd.Println("Edit selfhosted.api_url and translation.api_url to point at your services.")

		return nil
	},
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the configuration file path and the effective settings, with secrets masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		cmd.Printf("Configuration file: %s\n\n", configPath)
		cmd.Print(formatConfig(cfg))

		if err := cfg.Validate(); err != nil {
			cmd.Printf("\nWarning: %v\n", err)
		}
		return nil
	},
}

func formatConfig(cfg *config.Config) string {
	var output strings.Builder
	line := func(key string, value any) {
		output.WriteString(fmt.Sprintf("%-22s %v\n", key+":", value))
	}

	line("transcription_method", cfg.TranscriptionMethod)
	line("source_lang", cfg.SourceLang)
	line("target_lang", cfg.TargetLang)
	line("default_source_lang", cfg.DefaultSourceLang)
	line("rewind_seconds", cfg.RewindSeconds)
	line("replay_window", cfg.ReplayWindow)
	line("ready_timeout", cfg.ReadyTimeout)
	line("buffer_seconds", cfg.BufferSeconds)
	line("cloud.api_key", maskSecret(cfg.Cloud.APIKey))
	line("selfhosted.api_url", cfg.SelfHosted.APIURL)
	line("local.command", cfg.Local.Command)
	line("translation.provider", cfg.Translation.Provider)
	line("translation.api_url", cfg.Translation.APIURL)
	line("translation.api_key", maskSecret(cfg.Translation.APIKey))
	line("translation.fallback", cfg.Translation.Fallback)
	line("speech.command", cfg.Speech.Command)
	line("api.addr", cfg.API.Addr)
	line("database_url", maskDatabaseURL(cfg))

	return output.String()
}

// maskSecret keeps the last four characters of long secrets
func maskSecret(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 8:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

func maskDatabaseURL(cfg *config.Config) string {
	if cfg.DatabaseURL == "" {
		return "(not set)"
	}
	dbConfig, err := cfg.ParseDatabaseConfig()
	if err != nil {
		return "(invalid)"
	}
	if dbConfig.Password != "" {
		dbConfig.Password = "****"
	}
	return dbConfig.URL()
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().String("asr-url", "", "Self-hosted whisper ASR URL")
}
