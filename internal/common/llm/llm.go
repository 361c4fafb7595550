// Package llm wraps the Gemini model providers used for CV scoring.
package llm

import (
	"context"
	"fmt"

	"formation-review/internal/common/config"
)

// Generator produces a text completion for a single prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Close() error
}

// New builds the configured provider client.
func New(ctx context.Context, cfg config.APIsConfig) (Generator, error) {
	genai := cfg.GenAI
	switch genai.Provider {
	case config.GenAIProviderVertex:
		if genai.Project == "" {
			return nil, fmt.Errorf("apis.genai.project is required for provider %q", genai.Provider)
		}
		return NewVertexAIClient(ctx, genai.Project, genai.Location, genai.Model, genai.Temperature)
	case config.GenAIProviderGemini:
		if genai.APIKey == "" {
			return nil, fmt.Errorf("apis.genai.api_key is required for provider %q", genai.Provider)
		}
		return NewGoogleAIClient(ctx, genai.APIKey, genai.Model, genai.Temperature)
	default:
		return nil, fmt.Errorf("unsupported genai provider %q", genai.Provider)
	}
}
