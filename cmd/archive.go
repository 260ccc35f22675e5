package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/venuevision/venuestudio/internal/archive"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/storage"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export edit history to Parquet for analysis",
	}
	cmd.AddCommand(newArchiveWriteCmd())
	cmd.AddCommand(newArchiveShowCmd())
	return cmd
}

func newArchiveWriteCmd() *cobra.Command {
	var (
		dbPath  string
		output  string
		project string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write every saved session's history to a Parquet file",
		Example: `  # Archive all saved sessions
  venuestudio archive write --output history.parquet

  # Archive one project
  venuestudio archive write --project barn-wedding --output barn.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := storage.OpenDocuments(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer docs.Close()

			sessions, err := docs.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if project != "" {
				var filtered []models.EditSession
				for _, s := range sessions {
					if s.ProjectID == project {
						filtered = append(filtered, s)
					}
				}
				sessions = filtered
			}

			n, err := archive.WriteHistory(output, sessions)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries from %d sessions to %s\n", n, len(sessions), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDatabasePath(), "Path to the SQLite database")
	cmd.Flags().StringVarP(&output, "output", "o", "history.parquet", "Parquet file to write")
	cmd.Flags().StringVar(&project, "project", "", "Only archive sessions of this project")

	return cmd
}

func newArchiveShowCmd() *cobra.Command {
	var chosenOnly bool

	cmd := &cobra.Command{
		Use:   "show <history.parquet>",
		Short: "Print the rows of a history archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := archive.ReadHistory(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				if chosenOnly && !r.IsChosen {
					continue
				}
				created := time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s\t%s\t%s\tchosen=%t\t%q\n", created, r.SessionID, r.EntryID, r.IsChosen, r.Prompt)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&chosenOnly, "chosen", false, "Only show chosen entries")

	return cmd
}
