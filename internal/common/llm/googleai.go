package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// GoogleAIClient calls Gemini through the public API with an API key.
type GoogleAIClient struct {
	model       llms.Model
	temperature float64
}

func NewGoogleAIClient(ctx context.Context, apiKey, modelName string, temperature float32) (*GoogleAIClient, error) {
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(modelName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GoogleAIClient{model: model, temperature: float64(temperature)}, nil
}

func (g *GoogleAIClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	resp, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return resp, nil
}

// Close is a no-op; the langchaingo client holds no resources we own.
func (g *GoogleAIClient) Close() error {
	return nil
}
