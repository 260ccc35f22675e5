package providers

import (
	"context"
)

// Config represents the configuration for a text generation call
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	JSON        bool // ask the backend for a JSON object
}

// Provider defines the interface for an LLM text provider
type Provider interface {
	GenerateText(ctx context.Context, config Config) (string, error)
}

// TransformRequest asks for edited versions of an image.
// MaskURL is empty for global edits.
type TransformRequest struct {
	ImageURL string
	MaskURL  string
	Prompt   string
	Model    string
	Count    int
}

// TransformResult is one candidate image produced by a transform
type TransformResult struct {
	ImageURL string
	Model    string
}

// ImageTransformer edits images from a prompt. Results are opaque image
// references; callers never look at the bytes.
type ImageTransformer interface {
	Transform(ctx context.Context, req TransformRequest) ([]TransformResult, error)
}
