package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/rewind-lang/internal/config"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/feed"
)

// feedCmd represents the feed command
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Recently opened feeds",
	Long:  `List, add and remove entries in the recently opened feed history.`,
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently opened feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withFeedRepository(func(ctx context.Context, repo feed.Repository) error {
			feeds, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				result, err := json.MarshalIndent(feeds, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format result: %w", err)
				}
				cmd.Println(string(result))
				return nil
			}

			if len(feeds) == 0 {
				cmd.Println("No feeds yet. Play something with 'rewindlang play'.")
				return nil
			}
			for _, f := range feeds {
				title := f.Title
				if title == "" {
					title = "(untitled)"
				}
				cmd.Printf("%s  %s\n    %s\n", f.LastOpenedAt.Local().Format("2006-01-02 15:04"), title, f.URL)
			}
			return nil
		})
	},
}

var feedAddCmd = &cobra.Command{
	Use:   "add [URL]",
	Short: "Add a feed to the history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		return withFeedRepository(func(ctx context.Context, repo feed.Repository) error {
			saved, err := repo.Touch(ctx, args[0], title)
			if err != nil {
				return err
			}
			cmd.Printf("Saved %s\n", saved.URL)
			return nil
		})
	},
}

var feedRemoveCmd = &cobra.Command{
	Use:   "remove [URL]",
	Short: "Remove a feed from the history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeedRepository(func(ctx context.Context, repo feed.Repository) error {
			if err := repo.Delete(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Removed %s\n", args[0])
			return nil
		})
	},
}

func withFeedRepository(fn func(ctx context.Context, repo feed.Repository) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbPool, err := config.NewDatabasePool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer config.CloseDatabasePool(dbPool)

	return fn(ctx, feed.NewRepository(dbPool))
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedRemoveCmd)

	feedListCmd.Flags().Int("limit", feed.DefaultListLimit, "Maximum number of feeds to show")
	feedListCmd.Flags().Bool("json", false, "Print JSON")
	feedAddCmd.Flags().String("title", "", "Display title")
}
