// Package editing turns an edit request into candidate images and records
// them in the session's history.
package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/venuevision/venuestudio/internal/editsession"
	"github.com/venuevision/venuestudio/internal/metrics"
	"github.com/venuevision/venuestudio/internal/models"
	"github.com/venuevision/venuestudio/internal/providers"
	"github.com/venuevision/venuestudio/internal/storage"
)

type Mode string

const (
	ModeQuick    Mode = "quick"
	ModePrecise  Mode = "precise"
	ModeLighting Mode = "lighting"
)

const MaxIterations = 4

var (
	ErrInvalidRequest = errors.New("invalid edit request")
	// ErrStaleSession means the session moved to another image while the
	// transform was running.
	ErrStaleSession = errors.New("edit session changed during generation")
)

type Request struct {
	Prompt     string `json:"prompt"`
	Mode       Mode   `json:"mode,omitempty"`
	MaskURL    string `json:"maskUrl,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Enhance    bool   `json:"enhance,omitempty"`
}

// Enhancer rewrites prompts before they reach the transformer.
type Enhancer interface {
	Enhance(ctx context.Context, prompt, mode string) (string, error)
	Variations(ctx context.Context, prompt string, n int) ([]string, error)
}

type Service struct {
	sessions    *storage.EditSessions
	transformer providers.ImageTransformer
	enhancer    Enhancer
	model       string
	metrics     *metrics.Metrics
	newID       func() string
}

type Option func(*Service)

func WithEnhancer(e Enhancer) Option {
	return func(s *Service) { s.enhancer = e }
}

func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(sessions *storage.EditSessions, transformer providers.ImageTransformer, opts ...Option) *Service {
	s := &Service{
		sessions:    sessions,
		transformer: transformer,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize fills defaults and validates req.
func Normalize(req Request) (Request, error) {
	if req.Prompt == "" {
		return req, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if req.Mode == "" {
		req.Mode = ModeQuick
	}
	switch req.Mode {
	case ModeQuick, ModeLighting:
	case ModePrecise:
		if req.MaskURL == "" {
			return req, fmt.Errorf("%w: precise mode requires a mask", ErrInvalidRequest)
		}
	default:
		return req, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.MaskURL != "" {
		if _, err := providers.UploadName(req.MaskURL); err != nil {
			return req, fmt.Errorf("%w: mask: %v", ErrInvalidRequest, err)
		}
	}
	if req.Iterations == 0 {
		req.Iterations = 1
	}
	if req.Iterations < 1 || req.Iterations > MaxIterations {
		return req, fmt.Errorf("%w: iterations must be between 1 and %d", ErrInvalidRequest, MaxIterations)
	}
	return req, nil
}

// Generate produces req.Iterations candidates from the session's current
// image and records them as one iteration group. The raw prompt is what
// gets recorded; the transformer sees it with the accumulated context.
func (s *Service) Generate(ctx context.Context, sessionID string, req Request) ([]models.EditHistoryEntry, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	var before models.EditSession
	if err := s.sessions.With(func(store *editsession.Store) error {
		before, err = store.GetSession(sessionID)
		return err
	}); err != nil {
		return nil, err
	}
	if _, err := providers.UploadName(before.CurrentImageURL); err != nil {
		return nil, fmt.Errorf("%w: session image: %v", ErrInvalidRequest, err)
	}

	enhanced := s.enhance(ctx, req)

	var (
		results []editsession.Result
		started = time.Now()
	)
	if len(enhanced) > 1 {
		for _, p := range enhanced {
			batch, err := s.transform(ctx, sessionID, before, req, p, 1)
			if err != nil {
				s.countGeneration(req.Mode, "error")
				return nil, err
			}
			results = append(results, batch...)
		}
	} else {
		p := ""
		if len(enhanced) == 1 {
			p = enhanced[0]
		}
		results, err = s.transform(ctx, sessionID, before, req, p, req.Iterations)
		if err != nil {
			s.countGeneration(req.Mode, "error")
			return nil, err
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveTransform(string(req.Mode), time.Since(started))
	}

	var entries []models.EditHistoryEntry
	err = s.sessions.With(func(store *editsession.Store) error {
		now, err := store.GetSession(sessionID)
		if err != nil {
			return err
		}
		if now.CurrentImageURL != before.CurrentImageURL || now.CurrentEntryID != before.CurrentEntryID {
			return fmt.Errorf("%w: %s", ErrStaleSession, sessionID)
		}
		entries, err = store.AddToHistory(sessionID, results, s.newID())
		return err
	})
	if err != nil {
		s.countGeneration(req.Mode, "error")
		return nil, err
	}

	s.countGeneration(req.Mode, "ok")
	if s.metrics != nil {
		s.metrics.CandidatesTotal.Add(float64(len(entries)))
	}
	slog.Info("Generated candidates", "session_id", sessionID, "mode", req.Mode, "candidates", len(entries))
	return entries, nil
}

// enhance returns the enhanced prompts for req, or nil when enhancement is
// off or failed.
func (s *Service) enhance(ctx context.Context, req Request) []string {
	if !req.Enhance || s.enhancer == nil {
		return nil
	}
	var (
		prompts []string
		err     error
	)
	if req.Iterations > 1 {
		prompts, err = s.enhancer.Variations(ctx, req.Prompt, req.Iterations)
	} else {
		var p string
		p, err = s.enhancer.Enhance(ctx, req.Prompt, string(req.Mode))
		prompts = []string{p}
	}
	if err != nil {
		slog.Warn("Prompt enhancement failed, using raw prompt", "error", err)
		if s.metrics != nil {
			s.metrics.EnhanceErrors.Inc()
		}
		return nil
	}
	return prompts
}

func (s *Service) transform(ctx context.Context, sessionID string, session models.EditSession, req Request, enhanced string, count int) ([]editsession.Result, error) {
	instruction := req.Prompt
	if enhanced != "" {
		instruction = enhanced
	}
	if req.Mode == ModeLighting {
		instruction = lightingPrompt(instruction)
	}

	var contextual string
	if err := s.sessions.With(func(store *editsession.Store) error {
		var err error
		contextual, err = store.BuildContextualPrompt(sessionID, instruction)
		return err
	}); err != nil {
		return nil, err
	}

	out, err := s.transformer.Transform(ctx, providers.TransformRequest{
		ImageURL: session.CurrentImageURL,
		MaskURL:  req.MaskURL,
		Prompt:   contextual,
		Model:    s.model,
		Count:    count,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transform image: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("failed to transform image: no results")
	}

	results := make([]editsession.Result, 0, len(out))
	for _, r := range out {
		results = append(results, editsession.Result{
			ImageURL:       r.ImageURL,
			Prompt:         req.Prompt,
			EnhancedPrompt: enhanced,
			Model:          r.Model,
		})
	}
	return results, nil
}

func lightingPrompt(instruction string) string {
	return "Change only the lighting of this venue photo: " + instruction +
		". Keep the furniture, decor and layout exactly as they are."
}

func (s *Service) countGeneration(mode Mode, status string) {
	if s.metrics != nil {
		s.metrics.Generations.WithLabelValues(string(mode), status).Inc()
	}
}
