package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/storage"
	"gopkg.in/yaml.v3"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect edit sessions",
	}
	cmd.AddCommand(newSessionInspectCmd())
	cmd.AddCommand(newSessionListCmd())
	return cmd
}

func newSessionInspectCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <session.json>",
		Short: "Validate an exported edit session and print it",
		Long: `Reads an edit session exported from /api/sessions/{id}/export, checks it
the same way an import would, and prints it as a tree, YAML or JSON.

In tree output the chosen entry of each generation is marked with * and the
current entry with >.`,
		Example: `  # Show the edit tree
  venuestudio session inspect session.json

  # Convert to YAML
  venuestudio session inspect session.json --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var session models.EditSession
			if err := readJSONFile(args[0], &session); err != nil {
				return err
			}
			if err := editsession.Validate(session); err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), session, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "tree", "Output format: tree, yaml or json")

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List edit sessions saved in the database",
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
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s\tproject=%s\tentries=%d\tcreated=%s\n",
					s.ID, s.ProjectID, len(s.History), s.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultDatabasePath(), "Path to the SQLite database")

	return cmd
}

func printSession(w io.Writer, session models.EditSession, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(session)
	case "tree":
		_, err := io.WriteString(w, renderTree(session))
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// renderTree draws the history as an indented tree rooted at the original
// image.
func renderTree(session models.EditSession) string {
	children := make(map[string][]models.EditHistoryEntry)
	for _, e := range session.History {
		children[e.ParentID] = append(children[e.ParentID], e)
	}

	var b strings.Builder
	marker := " "
	if session.CurrentEntryID == "" {
		marker = ">"
	}
	fmt.Fprintf(&b, "%s original %s\n", marker, session.OriginalImageURL)

	var walk func(parent string, depth int)
	walk = func(parent string, depth int) {
		for _, e := range children[parent] {
			mark := " "
			if e.IsChosen {
				mark = "*"
			}
			if e.ID == session.CurrentEntryID {
				mark = ">"
			}
			fmt.Fprintf(&b, "%s%s %s %q %s\n", strings.Repeat("  ", depth), mark, e.ID, e.Prompt, e.ImageURL)
			walk(e.ID, depth+1)
		}
	}
	walk("", 1)

	if len(session.AccumulatedContext) > 0 {
		fmt.Fprintf(&b, "context: %s\n", strings.Join(session.AccumulatedContext, ", "))
	}
	return b.String()
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func defaultDatabasePath() string {
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		return p
	}
	return "data/venuestudio.db"
}
