// Package archive flattens edit histories into Parquet files for offline
// analysis of which prompts couples keep.
package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/venuevision/venuestudio/internal/models"
)

// Row is one history entry with its session's identifiers.
type Row struct {
	SessionID      string `json:"session_id" parquet:"session_id"`
	ProjectID      string `json:"project_id" parquet:"project_id"`
	EntryID        string `json:"entry_id" parquet:"entry_id"`
	ParentID       string `json:"parent_id" parquet:"parent_id"` // empty for entries made from the original photo
	IterationGroup string `json:"iteration_group" parquet:"iteration_group"`
	ImageURL       string `json:"image_url" parquet:"image_url"`
	Prompt         string `json:"prompt" parquet:"prompt"`
	EnhancedPrompt string `json:"enhanced_prompt" parquet:"enhanced_prompt"`
	Model          string `json:"model" parquet:"model"`
	IsChosen       bool   `json:"is_chosen" parquet:"is_chosen"`
	CreatedAt      int64  `json:"created_at" parquet:"created_at"` // unix milliseconds
}

// FromSessions returns one row per history entry, in session then
// history order.
func FromSessions(sessions []models.EditSession) []Row {
	var rows []Row
	for _, s := range sessions {
		for _, e := range s.History {
			rows = append(rows, Row{
				SessionID:      s.ID,
				ProjectID:      s.ProjectID,
				EntryID:        e.ID,
				ParentID:       e.ParentID,
				IterationGroup: e.IterationGroup,
				ImageURL:       e.ImageURL,
				Prompt:         e.Prompt,
				EnhancedPrompt: e.EnhancedPrompt,
				Model:          e.Model,
				IsChosen:       e.IsChosen,
				CreatedAt:      e.Timestamp.UnixMilli(),
			})
		}
	}
	return rows
}

// WriteHistory writes every history entry of sessions to a Parquet file at
// path and returns the number of rows written.
func WriteHistory(path string, sessions []models.EditSession) (int, error) {
	rows := FromSessions(sessions)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[Row](file)
	if _, err := writer.Write(rows); err != nil {
		return 0, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	slog.Info("Wrote history archive", "path", path, "sessions", len(sessions), "rows", len(rows))
	return len(rows), nil
}

// ReadHistory reads back the rows of an archive written by WriteHistory.
func ReadHistory(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("Parquet file opened", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var out []Row
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		out = append(out, batch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return out, nil
}
