package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/venuevision/venuestudio/internal/utils"
)

var errNotAnImage = errors.New("not a supported image")

type imageProcessResult struct {
	ImageFilename string
	ImageURL      string
	Width         int
	Height        int
}

// processImageFile checks that data decodes as an image and stores it
// under its md5, so uploading the same photo twice reuses one file.
func (h *Handler) processImageFile(data []byte, filename string) (*imageProcessResult, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotAnImage, err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = "." + format
	}
	imageFilename := utils.CalculateDataMD5(data) + ext
	imageFilePath := filepath.Join(h.uploadsDir, imageFilename)

	if err := os.WriteFile(imageFilePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	slog.Info("Image saved", "filename", imageFilename, "width", cfg.Width, "height", cfg.Height)

	return &imageProcessResult{
		ImageFilename: imageFilename,
		ImageURL:      "/static/uploads/" + imageFilename,
		Width:         cfg.Width,
		Height:        cfg.Height,
	}, nil
}

func (h *Handler) downloadImageFromURL(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}
