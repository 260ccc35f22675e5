// Package enhance rewrites short venue edit requests into detailed prompts
// for the image transformer.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/venuevision/venuestudio/internal/gemini"
	"github.com/venuevision/venuestudio/internal/ollama"
	"github.com/venuevision/venuestudio/internal/openai"
	"github.com/venuevision/venuestudio/internal/providers"
)

// ProviderConfig carries the credentials NewProvider needs.
type ProviderConfig struct {
	OpenAIKey  string
	GeminiKey  string
	OllamaURL  string
	UploadsDir string
}

// NewProvider returns the text provider registered under name.
func NewProvider(name string, cfg ProviderConfig) (providers.Provider, error) {
	switch name {
	case "openai":
		return openai.New(cfg.OpenAIKey, cfg.UploadsDir), nil
	case "gemini":
		return gemini.New(cfg.GeminiKey), nil
	case "ollama", "":
		return ollama.New(cfg.OllamaURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// DefaultModel is the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o"
	case "gemini":
		return "gemini-1.5-flash"
	case "ollama", "":
		return "mistral-small3.2:24b"
	default:
		return ""
	}
}

type Service struct {
	provider    providers.Provider
	model       string
	temperature float64
}

func NewService(provider providers.Provider, model string) *Service {
	return &Service{
		provider:    provider,
		model:       model,
		temperature: 0.4,
	}
}

// Enhance expands prompt into a detailed edit instruction for mode.
// On a malformed response the raw text is used.
func (s *Service) Enhance(ctx context.Context, prompt, mode string) (string, error) {
	raw, err := s.provider.GenerateText(ctx, providers.Config{
		Model:       s.model,
		Temperature: s.temperature,
		Prompt:      buildEnhancePrompt(prompt, mode),
		JSON:        true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enhance prompt: %w", err)
	}

	enhanced := extractPrompt(raw)
	if enhanced == "" {
		return prompt, nil
	}
	slog.Info("Enhanced prompt", "model", s.model, "mode", mode, "length", len(enhanced))
	return enhanced, nil
}

// Variations returns n distinct phrasings of prompt. Missing variations are
// filled with the original prompt so the result always has n entries.
func (s *Service) Variations(ctx context.Context, prompt string, n int) ([]string, error) {
	if n < 1 {
		return nil, nil
	}
	raw, err := s.provider.GenerateText(ctx, providers.Config{
		Model:       s.model,
		Temperature: 0.8,
		Prompt:      buildVariationsPrompt(prompt, n),
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate prompt variations: %w", err)
	}

	variations := extractVariations(raw)
	if len(variations) > n {
		variations = variations[:n]
	}
	for len(variations) < n {
		variations = append(variations, prompt)
	}
	slog.Debug("Generated prompt variations", "model", s.model, "count", n)
	return variations, nil
}

func buildEnhancePrompt(prompt, mode string) string {
	var focus string
	switch mode {
	case "precise":
		focus = "The edit is limited to a masked region of the photo. Describe only what changes inside that region and how it blends with its surroundings."
	case "lighting":
		focus = "The edit changes only the lighting. Describe light sources, color temperature, intensity and mood. Keep furniture and decor unchanged."
	default:
		focus = "The edit applies to the whole photo. Keep the room's architecture, perspective and camera angle unchanged."
	}

	return fmt.Sprintf(`You are an experienced wedding venue stylist and event designer. Couples describe changes to a photo of their venue in a few words, and you turn them into one precise instruction for an image editing model.

%s

RULES:
1. Preserve everything the couple did not ask to change.
2. Name concrete materials, colors, and arrangements.
3. Keep the result photorealistic.
4. Use at most three sentences.

REQUEST:
%s

OUTPUT FORMAT:
Respond with ONLY a JSON object:

{
  "prompt": "the detailed instruction"
}`, focus, prompt)
}

func buildVariationsPrompt(prompt string, n int) string {
	return fmt.Sprintf(`You are an experienced wedding venue stylist. Write %d distinct interpretations of the following change to a venue photo. Each should be a single detailed instruction for an image editing model, differing in style, palette or arrangement.

REQUEST:
%s

OUTPUT FORMAT:
Respond with ONLY a JSON object:

{
  "variations": ["...", "..."]
}`, n, prompt)
}

// trimFences strips markdown code fences around a JSON body.
func trimFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// extractPrompt parses the JSON response and returns its prompt field.
// Falls back to the plain response if JSON parsing fails.
func extractPrompt(response string) string {
	response = trimFences(response)
	var result struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		slog.Warn("Failed to parse JSON response, using raw output", "error", err)
		return strings.Trim(response, "\"")
	}
	return strings.TrimSpace(result.Prompt)
}

// extractVariations parses {"variations": [...]} and falls back to one
// variation per non-empty line.
func extractVariations(response string) []string {
	response = trimFences(response)
	var result struct {
		Variations []string `json:"variations"`
	}
	var out []string
	if err := json.Unmarshal([]byte(response), &result); err == nil {
		for _, v := range result.Variations {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	slog.Warn("Failed to parse variations JSON, splitting lines")
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
