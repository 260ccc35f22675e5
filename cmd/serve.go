package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/venuevision/venuestudio/internal/config"
	"github.com/venuevision/venuestudio/internal/editing"
	"github.com/venuevision/venuestudio/internal/enhance"
	"github.com/venuevision/venuestudio/internal/handlers"
	"github.com/venuevision/venuestudio/internal/metrics"
	"github.com/venuevision/venuestudio/internal/openai"
	"github.com/venuevision/venuestudio/internal/scene"
	"github.com/venuevision/venuestudio/internal/storage"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VenueStudio API server",
		Long: `Starts the VenueStudio HTTP API.

Photos uploaded to /api/upload open an edit session. Edits are generated
through the OpenAI images API, with prompts optionally enhanced by OpenAI,
Gemini or Ollama. Scenes and sessions can be saved to a local SQLite database.`,
		Example: `  # Start server on default port 8888
  venuestudio serve

  # Start server with a config file on a custom port
  venuestudio serve --config venuestudio.yaml --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $VENUESTUDIO_CONFIG)")
	cmd.Flags().IntVarP(&port, "port", "p", 8888, "Port to listen on")

	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	docs, err := storage.OpenDocuments(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer docs.Close()

	m := metrics.New()
	sessions := storage.NewEditSessions(nil)
	scenes := storage.NewSceneStore(docs, scene.WithMissingItemHandler(func(op, id string) {
		slog.Debug("Scene operation on missing item", "op", op, "item_id", id)
		m.SceneOps.WithLabelValues(op + "_missing").Inc()
	}))

	textProvider, err := enhance.NewProvider(cfg.Enhance.Provider, enhance.ProviderConfig{
		OpenAIKey:  cfg.Providers.OpenAIKey,
		GeminiKey:  cfg.Providers.GeminiKey,
		OllamaURL:  cfg.Providers.OllamaURL,
		UploadsDir: cfg.UploadsDir,
	})
	if err != nil {
		return err
	}
	enhanceModel := cfg.Enhance.Model
	if enhanceModel == "" {
		enhanceModel = enhance.DefaultModel(cfg.Enhance.Provider)
	}

	editor := editing.NewService(sessions, openai.New(cfg.Providers.OpenAIKey, cfg.UploadsDir),
		editing.WithEnhancer(enhance.NewService(textProvider, enhanceModel)),
		editing.WithModel(cfg.Transform.Model),
		editing.WithMetrics(m),
	)

	handler := handlers.New(handlers.Deps{
		Sessions:   sessions,
		Scenes:     scenes,
		Editing:    editor,
		Documents:  docs,
		Metrics:    m,
		UploadsDir: cfg.UploadsDir,
	})

	mux := http.NewServeMux()
	handler.Register(mux)

	addr := cfg.Addr()
	server := &http.Server{
		Addr:    addr,
		Handler: handler.Instrument(mux),
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("VenueStudio API available", "addr", addr, "url", "http://localhost"+addr,
			"enhance_provider", cfg.Enhance.Provider, "enhance_model", enhanceModel, "database", cfg.DatabasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation (Ctrl+C) or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
			return err
		}
		slog.Info("Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}
