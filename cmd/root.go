package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/venuevision/venuestudio/internal/config"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "venuestudio",
		Short: "AI venue photo editing and furniture layout service",
		Long: `VenueStudio lets couples restyle photos of their wedding venue with AI image
edits and lay out furniture in a 2D/3D scene editor.

Edits are kept as a tree, so any earlier result can be revisited or branched
from. Scene changes support undo and redo.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newSceneCmd())
	cmd.AddCommand(newArchiveCmd())

	return cmd
}
