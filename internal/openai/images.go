package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/venuevision/venuestudio/internal/providers"
	"github.com/venuevision/venuestudio/internal/utils"
)

const defaultImageModel = "gpt-image-1"

// Transform edits req.ImageURL with the images edit endpoint. With a mask
// only the transparent area of the mask is repainted. Each returned image is
// written to UploadsDir and referenced by its /static/uploads URL.
func (o *OpenAI) Transform(ctx context.Context, req providers.TransformRequest) ([]providers.TransformResult, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := req.Model
	if model == "" {
		model = defaultImageModel
	}
	count := req.Count
	if count < 1 {
		count = 1
	}

	image, err := o.readImage(req.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":  model,
		"prompt": req.Prompt,
		"n":      strconv.Itoa(count),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	if err := writeFile(writer, "image", "image.png", image); err != nil {
		return nil, err
	}
	if req.MaskURL != "" {
		mask, err := o.readImage(req.MaskURL)
		if err != nil {
			return nil, fmt.Errorf("failed to read mask: %w", err)
		}
		if err := writeFile(writer, "mask", "mask.png", mask); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/images/edits", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI images API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openAI images API returned status %d: %s", resp.StatusCode, string(body))
	}

	var imagesResp struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&imagesResp); err != nil {
		return nil, fmt.Errorf("failed to decode OpenAI images response: %w", err)
	}
	if len(imagesResp.Data) == 0 {
		return nil, fmt.Errorf("no images returned from OpenAI")
	}

	results := make([]providers.TransformResult, 0, len(imagesResp.Data))
	for _, d := range imagesResp.Data {
		if d.URL != "" {
			results = append(results, providers.TransformResult{ImageURL: d.URL, Model: model})
			continue
		}
		data, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		url, err := o.saveImage(data)
		if err != nil {
			return nil, err
		}
		results = append(results, providers.TransformResult{ImageURL: url, Model: model})
	}

	slog.Info("Transformed image", "provider", "openai", "model", model, "results", len(results), "masked", req.MaskURL != "")
	return results, nil
}

// readImage loads an image stored under UploadsDir. References outside the
// uploads directory are refused so client input cannot reach local files or
// internal URLs.
func (o *OpenAI) readImage(ref string) ([]byte, error) {
	name, err := providers.UploadName(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(o.UploadsDir, name))
}

func (o *OpenAI) saveImage(data []byte) (string, error) {
	if err := os.MkdirAll(o.UploadsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}
	name := utils.CalculateDataMD5(data) + ".png"
	if err := os.WriteFile(filepath.Join(o.UploadsDir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return providers.UploadsURLPrefix + name, nil
}

func writeFile(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file %s: %w", field, err)
	}
	return nil
}
