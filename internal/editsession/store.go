// Package editsession records AI image edits as a tree of generations.
//
// History is a flat, append-only list; each entry points at the entry that
// was current when it was generated. Undo is a pointer move, never a delete.
// A Store is not safe for concurrent use. Hosts that share one between
// requests must serialize access (see internal/storage).
package editsession

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/venuevision/venuestudio/internal/models"
)

// MaxContext is how many phrases the accumulated context keeps.
const MaxContext = 5

var (
	ErrSessionNotFound = errors.New("edit session not found")
	ErrEntryNotFound   = errors.New("history entry not found")
	ErrEmptyBatch      = errors.New("no results to record")
	ErrInvalidSession  = errors.New("invalid edit session")
)

// Result is one candidate image returned by an image transform.
type Result struct {
	ImageURL       string `json:"imageUrl"`
	Prompt         string `json:"prompt"`
	EnhancedPrompt string `json:"enhancedPrompt,omitempty"`
	Model          string `json:"model,omitempty"`
}

// Store owns every edit session of one host.
type Store struct {
	sessions map[string]*models.EditSession
	phrase   Phraser
	now      func() time.Time
	newID    func() string
}

type Option func(*Store)

// WithPhraser replaces DerivePhrase as the context policy.
func WithPhraser(p Phraser) Option {
	return func(s *Store) { s.phrase = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*models.EditSession),
		phrase:   DerivePhrase,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateSession(projectID, originalImageURL string) models.EditSession {
	session := &models.EditSession{
		ID:                 s.newID(),
		ProjectID:          projectID,
		OriginalImageURL:   originalImageURL,
		CurrentImageURL:    originalImageURL,
		History:            []models.EditHistoryEntry{},
		AccumulatedContext: []string{},
		CreatedAt:          s.now(),
	}
	s.sessions[session.ID] = session
	slog.Debug("Edit session created", "session_id", session.ID, "project_id", projectID)
	return session.Clone()
}

func (s *Store) GetSession(sessionID string) (models.EditSession, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return models.EditSession{}, err
	}
	return session.Clone(), nil
}

// ListSessions returns copies of all sessions, oldest first.
func (s *Store) ListSessions() []models.EditSession {
	out := make([]models.EditSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AddToHistory records one generation request's candidates as siblings of
// the current entry. The first result is marked chosen; the current pointer
// does not move until ChooseEntry.
func (s *Store) AddToHistory(sessionID string, results []Result, iterationGroup string) ([]models.EditHistoryEntry, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrEmptyBatch
	}
	if iterationGroup == "" {
		iterationGroup = s.newID()
	}

	created := make([]models.EditHistoryEntry, 0, len(results))
	now := s.now()
	for i, r := range results {
		created = append(created, models.EditHistoryEntry{
			ID:             s.newID(),
			ImageURL:       r.ImageURL,
			Prompt:         r.Prompt,
			EnhancedPrompt: r.EnhancedPrompt,
			Timestamp:      now,
			ParentID:       session.CurrentEntryID,
			IterationGroup: iterationGroup,
			IsChosen:       i == 0,
			Model:          r.Model,
		})
	}

	// A caller reusing a group id must not end up with two chosen entries.
	for i := range session.History {
		if session.History[i].IterationGroup == iterationGroup {
			session.History[i].IsChosen = false
		}
	}
	session.History = append(session.History, created...)

	slog.Debug("Recorded generations", "session_id", sessionID, "iteration_group", iterationGroup, "count", len(created))
	return append([]models.EditHistoryEntry(nil), created...), nil
}

// ChooseEntry makes entryID the chosen candidate of its group and the
// current state of the session.
func (s *Store) ChooseEntry(sessionID, entryID string) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	idx, err := entryIndex(session, entryID)
	if err != nil {
		return err
	}

	entry := &session.History[idx]
	if session.CurrentEntryID == entryID && entry.IsChosen {
		return nil
	}

	for i := range session.History {
		if session.History[i].IterationGroup == entry.IterationGroup {
			session.History[i].IsChosen = i == idx
		}
	}
	session.CurrentEntryID = entry.ID
	session.CurrentImageURL = entry.ImageURL
	session.AccumulatedContext = pushContext(session.AccumulatedContext, s.phrase(entry.Prompt))
	return nil
}

// GoBackTo moves the current pointer to any entry and rebuilds the
// accumulated context from the chosen entries up to and including it.
func (s *Store) GoBackTo(sessionID, entryID string) (models.EditSession, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return models.EditSession{}, err
	}
	idx, err := entryIndex(session, entryID)
	if err != nil {
		return models.EditSession{}, err
	}

	context := []string{}
	for _, entry := range session.History[:idx+1] {
		if entry.IsChosen {
			context = pushContext(context, s.phrase(entry.Prompt))
		}
	}

	session.CurrentEntryID = session.History[idx].ID
	session.CurrentImageURL = session.History[idx].ImageURL
	session.AccumulatedContext = context
	return session.Clone(), nil
}

// BranchFrom moves the current pointer without touching the context, so the
// next generation becomes a sibling line from entryID.
func (s *Store) BranchFrom(sessionID, entryID string) (string, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	idx, err := entryIndex(session, entryID)
	if err != nil {
		return "", err
	}
	session.CurrentEntryID = session.History[idx].ID
	session.CurrentImageURL = session.History[idx].ImageURL
	return entryID, nil
}

// HistoryTree returns the flat history; rebuild the tree through ParentID.
func (s *Store) HistoryTree(sessionID string) ([]models.EditHistoryEntry, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]models.EditHistoryEntry{}, session.History...), nil
}

// ChosenPath returns every chosen entry in history order. After branching
// this is not necessarily one connected path; use PathToCurrent for that.
func (s *Store) ChosenPath(sessionID string) ([]models.EditHistoryEntry, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	out := []models.EditHistoryEntry{}
	for _, entry := range session.History {
		if entry.IsChosen {
			out = append(out, entry)
		}
	}
	return out, nil
}

// PathToCurrent walks ParentID from the current entry to the root and
// returns the entries root first. It is empty when the session is at the
// original image.
func (s *Store) PathToCurrent(sessionID string) ([]models.EditHistoryEntry, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(session.History))
	for i, entry := range session.History {
		byID[entry.ID] = i
	}

	path := []models.EditHistoryEntry{}
	seen := make(map[string]bool)
	for id := session.CurrentEntryID; id != "" && !seen[id]; {
		idx, ok := byID[id]
		if !ok {
			break
		}
		seen[id] = true
		path = append(path, session.History[idx])
		id = session.History[idx].ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Children returns the direct descendants of entryID in history order. An
// empty entryID asks for the entries generated from the original image.
func (s *Store) Children(sessionID, entryID string) ([]models.EditHistoryEntry, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if entryID != "" {
		if _, err := entryIndex(session, entryID); err != nil {
			return nil, err
		}
	}
	out := []models.EditHistoryEntry{}
	for _, entry := range session.History {
		if entry.ParentID == entryID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// BuildContextualPrompt prefixes newPrompt with the accumulated context.
func (s *Store) BuildContextualPrompt(sessionID, newPrompt string) (string, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	if len(session.AccumulatedContext) == 0 {
		return newPrompt, nil
	}
	return "Building on previous edits (" + strings.Join(session.AccumulatedContext, ", ") + "), " + newPrompt, nil
}

func (s *Store) AccumulatedContext(sessionID string) ([]string, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, session.AccumulatedContext...), nil
}

func (s *Store) ClearSession(sessionID string) error {
	if _, err := s.lookup(sessionID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	slog.Debug("Edit session cleared", "session_id", sessionID)
	return nil
}

// ExportSession returns a detached copy suitable for persisting.
func (s *Store) ExportSession(sessionID string) (models.EditSession, error) {
	return s.GetSession(sessionID)
}

// ImportSession validates data and installs it, replacing any session with
// the same id. The current image is recomputed from the current pointer.
func (s *Store) ImportSession(data models.EditSession) (models.EditSession, error) {
	if err := Validate(data); err != nil {
		return models.EditSession{}, err
	}
	session := data.Clone()
	if session.ID == "" {
		session.ID = s.newID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.CurrentImageURL = session.OriginalImageURL
	for _, entry := range session.History {
		if entry.ID == session.CurrentEntryID {
			session.CurrentImageURL = entry.ImageURL
		}
	}
	if len(session.AccumulatedContext) > MaxContext {
		session.AccumulatedContext = session.AccumulatedContext[len(session.AccumulatedContext)-MaxContext:]
	}
	s.sessions[session.ID] = &session
	return session.Clone(), nil
}

// Validate checks the invariants an imported session must hold.
func Validate(data models.EditSession) error {
	ids := make(map[string]bool, len(data.History))
	chosen := make(map[string]string)
	for _, entry := range data.History {
		if entry.ID == "" {
			return fmt.Errorf("%w: history entry without id", ErrInvalidSession)
		}
		if ids[entry.ID] {
			return fmt.Errorf("%w: duplicate entry id %s", ErrInvalidSession, entry.ID)
		}
		ids[entry.ID] = true
		if entry.IsChosen {
			if other, ok := chosen[entry.IterationGroup]; ok {
				return fmt.Errorf("%w: entries %s and %s are both chosen in group %s", ErrInvalidSession, other, entry.ID, entry.IterationGroup)
			}
			chosen[entry.IterationGroup] = entry.ID
		}
	}
	if data.CurrentEntryID != "" && !ids[data.CurrentEntryID] {
		return fmt.Errorf("%w: current entry %s is not in history", ErrInvalidSession, data.CurrentEntryID)
	}
	return nil
}

func (s *Store) lookup(sessionID string) (*models.EditSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func entryIndex(session *models.EditSession, entryID string) (int, error) {
	for i := range session.History {
		if session.History[i].ID == entryID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s in session %s", ErrEntryNotFound, entryID, session.ID)
}

func pushContext(context []string, phrase string) []string {
	if phrase == "" {
		return context
	}
	context = append(context, phrase)
	if len(context) > MaxContext {
		context = append([]string(nil), context[len(context)-MaxContext:]...)
	}
	return context
}
