package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/scene"
)

// EditSessions serializes access to one editsession.Store.
type EditSessions struct {
	store *editsession.Store
	mu    sync.Mutex
}

func NewEditSessions(store *editsession.Store) *EditSessions {
	if store == nil {
		store = editsession.New()
	}
	return &EditSessions{store: store}
}

// With runs fn while holding the lock. fn must not block on I/O.
func (s *EditSessions) With(fn func(*editsession.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store)
}

// SceneLoader fetches a persisted scene for a project that is not in memory.
type SceneLoader interface {
	LoadScene(ctx context.Context, projectID string) (models.SceneData, error)
}

type sceneSlot struct {
	mu      sync.Mutex
	manager *scene.Manager
}

// SceneStore keeps one scene.Manager per project, each behind its own lock.
type SceneStore struct {
	scenes map[string]*sceneSlot
	mu     sync.RWMutex
	loader SceneLoader
	opts   []scene.Option
}

// NewSceneStore creates a store. loader may be nil, in which case unknown
// projects start with an empty scene.
func NewSceneStore(loader SceneLoader, opts ...scene.Option) *SceneStore {
	return &SceneStore{
		scenes: make(map[string]*sceneSlot),
		loader: loader,
		opts:   opts,
	}
}

// With runs fn against the project's scene while holding its lock, creating
// or loading the scene on first use.
func (s *SceneStore) With(ctx context.Context, projectID string, fn func(*scene.Manager) error) error {
	slot, err := s.slot(ctx, projectID)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return fn(slot.manager)
}

func (s *SceneStore) slot(ctx context.Context, projectID string) (*sceneSlot, error) {
	s.mu.RLock()
	slot, exists := s.scenes[projectID]
	s.mu.RUnlock()
	if exists {
		return slot, nil
	}

	manager, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, exists := s.scenes[projectID]; exists {
		return slot, nil
	}
	slot = &sceneSlot{manager: manager}
	s.scenes[projectID] = slot
	return slot, nil
}

func (s *SceneStore) load(ctx context.Context, projectID string) (*scene.Manager, error) {
	manager := scene.NewManager(s.opts...)
	if s.loader == nil {
		return manager, nil
	}

	data, err := s.loader.LoadScene(ctx, projectID)
	if errors.Is(err, ErrDocumentNotFound) {
		return manager, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scene for project %s: %w", projectID, err)
	}
	if err := manager.ImportScene(data); err != nil {
		return nil, fmt.Errorf("stored scene for project %s is invalid: %w", projectID, err)
	}
	slog.Info("Scene loaded from document store", "project_id", projectID, "items", len(data.Items))
	return manager, nil
}

// Projects lists the projects with a scene in memory.
func (s *SceneStore) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.scenes))
	for k := range s.scenes {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func (s *SceneStore) Delete(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scenes, projectID)
}
