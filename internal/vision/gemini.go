package vision

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"agentic/internal/config"
)

// geminiProvider critiques screenshots through the Google GenAI SDK.
type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	topP        float32
}

func newGeminiProvider(ctx context.Context, cfg config.VisionConfig) (*geminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	return &geminiProvider{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		topP:        float32(cfg.TopP),
	}, nil
}

func (g *geminiProvider) critique(ctx context.Context, prompt string, imagePNG []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(imagePNG, "image/png"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		TopP:             genai.Ptr(g.topP),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}
