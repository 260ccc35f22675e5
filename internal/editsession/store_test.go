package editsession

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/venuevision/venuestudio/internal/models"
)

func newTestStore() *Store {
	n := 0
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return New(
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
		WithClock(func() time.Time { return base }),
	)
}

func checkInvariants(t *testing.T, s *Store, sessionID string) {
	t.Helper()
	session, err := s.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	chosen := map[string]int{}
	found := session.CurrentEntryID == ""
	for _, e := range session.History {
		if e.IsChosen {
			chosen[e.IterationGroup]++
		}
		if e.ID == session.CurrentEntryID {
			found = true
			if session.CurrentImageURL != e.ImageURL {
				t.Errorf("current image %s does not match entry image %s", session.CurrentImageURL, e.ImageURL)
			}
		}
	}
	if !found {
		t.Errorf("current entry %s not in history", session.CurrentEntryID)
	}
	if session.CurrentEntryID == "" && session.CurrentImageURL != session.OriginalImageURL {
		t.Errorf("expected original image %s, got %s", session.OriginalImageURL, session.CurrentImageURL)
	}
	for group, n := range chosen {
		if n > 1 {
			t.Errorf("group %s has %d chosen entries", group, n)
		}
	}
	if len(session.AccumulatedContext) > MaxContext {
		t.Errorf("context has %d phrases, max %d", len(session.AccumulatedContext), MaxContext)
	}
}

func TestCreateSession(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")

	if session.CurrentImageURL != "orig.png" {
		t.Errorf("Expected current image orig.png, got %s", session.CurrentImageURL)
	}
	if session.CurrentEntryID != "" {
		t.Errorf("Expected no current entry, got %s", session.CurrentEntryID)
	}
	if len(session.History) != 0 || len(session.AccumulatedContext) != 0 {
		t.Errorf("Expected empty history and context")
	}
	if _, err := s.GetSession(session.ID); err != nil {
		t.Errorf("Expected session to be stored: %v", err)
	}
}

func TestSingleResultScenario(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")

	entries, err := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}}, "")
	if err != nil {
		t.Fatalf("AddToHistory: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsChosen {
		t.Fatalf("Expected one chosen entry, got %+v", entries)
	}

	got, _ := s.GetSession(session.ID)
	if got.CurrentImageURL != "orig.png" {
		t.Errorf("Expected current image unchanged before choose, got %s", got.CurrentImageURL)
	}
	checkInvariants(t, s, session.ID)

	if err := s.ChooseEntry(session.ID, entries[0].ID); err != nil {
		t.Fatalf("ChooseEntry: %v", err)
	}
	got, _ = s.GetSession(session.ID)
	if got.CurrentImageURL != "a.png" {
		t.Errorf("Expected a.png, got %s", got.CurrentImageURL)
	}
	if !reflect.DeepEqual(got.AccumulatedContext, []string{"added roses"}) {
		t.Errorf("Expected [added roses], got %v", got.AccumulatedContext)
	}
	checkInvariants(t, s, session.ID)
}

func TestChooseAmongCandidates(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")

	entries, err := s.AddToHistory(session.ID, []Result{
		{ImageURL: "a.png", Prompt: "add candles"},
		{ImageURL: "b.png", Prompt: "add candles"},
	}, "g1")
	if err != nil {
		t.Fatalf("AddToHistory: %v", err)
	}
	if !entries[0].IsChosen || entries[1].IsChosen {
		t.Fatalf("Expected first chosen only, got %v %v", entries[0].IsChosen, entries[1].IsChosen)
	}
	for _, e := range entries {
		if e.IterationGroup != "g1" || e.ParentID != "" {
			t.Errorf("Unexpected group/parent %s/%s", e.IterationGroup, e.ParentID)
		}
	}

	if err := s.ChooseEntry(session.ID, entries[1].ID); err != nil {
		t.Fatalf("ChooseEntry: %v", err)
	}
	history, _ := s.HistoryTree(session.ID)
	if history[0].IsChosen || !history[1].IsChosen {
		t.Errorf("Expected b.png chosen, got a=%v b=%v", history[0].IsChosen, history[1].IsChosen)
	}
	checkInvariants(t, s, session.ID)
}

func TestChooseEntryIdempotent(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")
	entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "remove the chairs"}}, "")

	if err := s.ChooseEntry(session.ID, entries[0].ID); err != nil {
		t.Fatal(err)
	}
	once, _ := s.GetSession(session.ID)
	if err := s.ChooseEntry(session.ID, entries[0].ID); err != nil {
		t.Fatal(err)
	}
	twice, _ := s.GetSession(session.ID)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Expected identical state after repeated choose:\n%+v\n%+v", once, twice)
	}
}

func TestParentIsCurrentAtRecordTime(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")

	first, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}}, "")
	_ = s.ChooseEntry(session.ID, first[0].ID)

	second, _ := s.AddToHistory(session.ID, []Result{
		{ImageURL: "b.png", Prompt: "add lanterns"},
		{ImageURL: "c.png", Prompt: "add lanterns"},
	}, "")
	for _, e := range second {
		if e.ParentID != first[0].ID {
			t.Errorf("Expected parent %s, got %s", first[0].ID, e.ParentID)
		}
	}
	if second[0].IterationGroup == "" || second[0].IterationGroup != second[1].IterationGroup {
		t.Errorf("Expected a shared generated group, got %q and %q", second[0].IterationGroup, second[1].IterationGroup)
	}
}

func threeChosenSteps(t *testing.T, s *Store) (string, []models.EditHistoryEntry) {
	t.Helper()
	session := s.CreateSession("p1", "orig.png")
	prompts := []string{"add roses", "change the chairs to gold", "remove the piano"}
	var steps []models.EditHistoryEntry
	for i, p := range prompts {
		entries, err := s.AddToHistory(session.ID, []Result{{ImageURL: fmt.Sprintf("%d.png", i+1), Prompt: p}}, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.ChooseEntry(session.ID, entries[0].ID); err != nil {
			t.Fatal(err)
		}
		steps = append(steps, entries[0])
	}
	return session.ID, steps
}

func TestGoBackToRebuildsContext(t *testing.T) {
	s := newTestStore()
	sessionID, steps := threeChosenSteps(t, s)

	ctx, _ := s.AccumulatedContext(sessionID)
	want := []string{"added roses", "changed the chairs to gold", "removed the piano"}
	if !reflect.DeepEqual(ctx, want) {
		t.Fatalf("Expected %v, got %v", want, ctx)
	}

	session, err := s.GoBackTo(sessionID, steps[0].ID)
	if err != nil {
		t.Fatalf("GoBackTo: %v", err)
	}
	if !reflect.DeepEqual(session.AccumulatedContext, []string{"added roses"}) {
		t.Errorf("Expected [added roses], got %v", session.AccumulatedContext)
	}
	if session.CurrentImageURL != "1.png" || session.CurrentEntryID != steps[0].ID {
		t.Errorf("Expected pointer at step 1, got %s %s", session.CurrentEntryID, session.CurrentImageURL)
	}
	if len(session.History) != 3 {
		t.Errorf("Expected history kept, got %d entries", len(session.History))
	}
	checkInvariants(t, s, sessionID)
}

func TestBranchFromKeepsContext(t *testing.T) {
	s := newTestStore()
	sessionID, steps := threeChosenSteps(t, s)
	before, _ := s.AccumulatedContext(sessionID)

	id, err := s.BranchFrom(sessionID, steps[0].ID)
	if err != nil || id != steps[0].ID {
		t.Fatalf("BranchFrom returned %s, %v", id, err)
	}
	after, _ := s.AccumulatedContext(sessionID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Expected context unchanged, got %v", after)
	}

	branch, _ := s.AddToHistory(sessionID, []Result{{ImageURL: "x.png", Prompt: "add a dance floor"}}, "")
	if branch[0].ParentID != steps[0].ID {
		t.Errorf("Expected new entry to branch from step 1, got parent %s", branch[0].ParentID)
	}
	_ = s.ChooseEntry(sessionID, branch[0].ID)

	path, _ := s.PathToCurrent(sessionID)
	if len(path) != 2 || path[0].ID != steps[0].ID || path[1].ID != branch[0].ID {
		t.Errorf("Expected path [step1, branch], got %+v", path)
	}
	chosen, _ := s.ChosenPath(sessionID)
	if len(chosen) != 4 {
		t.Errorf("Expected chosen entries from both branches, got %d", len(chosen))
	}
	children, _ := s.Children(sessionID, steps[0].ID)
	if len(children) != 2 {
		t.Errorf("Expected two children of step 1, got %d", len(children))
	}
	checkInvariants(t, s, sessionID)
}

func TestContextCap(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")
	for i := 0; i < MaxContext+2; i++ {
		entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "x.png", Prompt: fmt.Sprintf("add item%d", i)}}, "")
		_ = s.ChooseEntry(session.ID, entries[0].ID)
	}
	ctx, _ := s.AccumulatedContext(session.ID)
	if len(ctx) != MaxContext {
		t.Fatalf("Expected %d phrases, got %d", MaxContext, len(ctx))
	}
	if ctx[0] != "added item2" || ctx[MaxContext-1] != "added item6" {
		t.Errorf("Expected oldest phrases evicted, got %v", ctx)
	}
}

func TestBuildContextualPrompt(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")

	got, _ := s.BuildContextualPrompt(session.ID, "warmer lights")
	if got != "warmer lights" {
		t.Errorf("Expected unchanged prompt, got %q", got)
	}

	entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}}, "")
	_ = s.ChooseEntry(session.ID, entries[0].ID)
	got, _ = s.BuildContextualPrompt(session.ID, "warmer lights")
	want := "Building on previous edits (added roses), warmer lights"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")
	entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}, {ImageURL: "b.png", Prompt: "add roses"}}, "")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"get unknown session", func() error { _, err := s.GetSession("nope"); return err }, ErrSessionNotFound},
		{"add unknown session", func() error { _, err := s.AddToHistory("nope", []Result{{ImageURL: "a"}}, ""); return err }, ErrSessionNotFound},
		{"add empty batch", func() error { _, err := s.AddToHistory(session.ID, nil, ""); return err }, ErrEmptyBatch},
		{"choose unknown entry", func() error { return s.ChooseEntry(session.ID, "nope") }, ErrEntryNotFound},
		{"go back unknown entry", func() error { _, err := s.GoBackTo(session.ID, "nope"); return err }, ErrEntryNotFound},
		{"branch unknown entry", func() error { _, err := s.BranchFrom(session.ID, "nope"); return err }, ErrEntryNotFound},
		{"clear unknown session", func() error { return s.ClearSession("nope") }, ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	// Failed calls must not have mutated anything.
	history, _ := s.HistoryTree(session.ID)
	if !history[0].IsChosen || history[1].IsChosen || len(history) != len(entries) {
		t.Errorf("Expected history untouched after failures")
	}
	checkInvariants(t, s, session.ID)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := newTestStore()
	session := s.CreateSession("p1", "orig.png")
	entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}}, "")

	history, _ := s.HistoryTree(session.ID)
	history[0].IsChosen = false
	history[0].ImageURL = "tampered.png"
	entries[0].ImageURL = "tampered.png"

	got, _ := s.GetSession(session.ID)
	got.History[0].ImageURL = "tampered.png"

	fresh, _ := s.HistoryTree(session.ID)
	if fresh[0].ImageURL != "a.png" || !fresh[0].IsChosen {
		t.Errorf("Expected store state unaffected by caller mutation, got %+v", fresh[0])
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	s := newTestStore()
	sessionID, steps := threeChosenSteps(t, s)
	lengths := []int{}
	record := func() {
		h, _ := s.HistoryTree(sessionID)
		lengths = append(lengths, len(h))
	}
	record()
	_, _ = s.GoBackTo(sessionID, steps[0].ID)
	record()
	_, _ = s.BranchFrom(sessionID, steps[1].ID)
	record()
	_ = s.ChooseEntry(sessionID, steps[2].ID)
	record()
	for i := 1; i < len(lengths); i++ {
		if lengths[i] < lengths[i-1] {
			t.Errorf("History shrank: %v", lengths)
		}
	}

	if err := s.ClearSession(sessionID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession(sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected session removed, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	s := newTestStore()
	sessionID, steps := threeChosenSteps(t, s)
	exported, err := s.ExportSession(sessionID)
	if err != nil {
		t.Fatal(err)
	}

	other := newTestStore()
	imported, err := other.ImportSession(exported)
	if err != nil {
		t.Fatalf("ImportSession: %v", err)
	}
	if !reflect.DeepEqual(imported, exported) {
		t.Errorf("Expected round trip:\n%+v\n%+v", exported, imported)
	}
	if _, err := other.GoBackTo(sessionID, steps[1].ID); err != nil {
		t.Errorf("Expected imported session to be usable: %v", err)
	}
	checkInvariants(t, other, sessionID)
}

func TestImportRejectsBrokenInvariants(t *testing.T) {
	tests := []struct {
		name    string
		session models.EditSession
	}{
		{
			name:    "dangling current entry",
			session: models.EditSession{ID: "s", CurrentEntryID: "missing"},
		},
		{
			name:    "two chosen in one group",
			session: models.EditSession{ID: "s", History: []models.EditHistoryEntry{
				{ID: "a", IterationGroup: "g", IsChosen: true},
				{ID: "b", IterationGroup: "g", IsChosen: true},
			}},
		},
		{
			name:    "duplicate entry id",
			session: models.EditSession{ID: "s", History: []models.EditHistoryEntry{
				{ID: "a", IterationGroup: "g1"},
				{ID: "a", IterationGroup: "g2"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			if _, err := s.ImportSession(tt.session); !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Expected ErrInvalidSession, got %v", err)
			}
			if len(s.ListSessions()) != 0 {
				t.Errorf("Expected nothing imported")
			}
		})
	}
}

func TestImportRecomputesCurrentImage(t *testing.T) {
	s := newTestStore()
	imported, err := s.ImportSession(models.EditSession{
		ID:               "s1",
		OriginalImageURL: "orig.png",
		CurrentImageURL:  "stale.png",
		CurrentEntryID:   "e1",
		History:          []models.EditHistoryEntry{{ID: "e1", ImageURL: "e1.png", IterationGroup: "g", IsChosen: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if imported.CurrentImageURL != "e1.png" {
		t.Errorf("Expected e1.png, got %s", imported.CurrentImageURL)
	}
}

func TestWithPhraser(t *testing.T) {
	s := New(WithPhraser(func(prompt string) string { return "custom:" + prompt }))
	session := s.CreateSession("p1", "orig.png")
	entries, _ := s.AddToHistory(session.ID, []Result{{ImageURL: "a.png", Prompt: "add roses"}}, "")
	_ = s.ChooseEntry(session.ID, entries[0].ID)

	ctx, _ := s.AccumulatedContext(session.ID)
	if !reflect.DeepEqual(ctx, []string{"custom:add roses"}) {
		t.Errorf("Expected custom phrase, got %v", ctx)
	}
}
