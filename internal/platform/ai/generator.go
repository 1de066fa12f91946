// Package ai wraps the external text-generation collaborator behind a narrow
// contract. The core treats generator output as untrusted text and performs
// zero retries; retry policy, if any, belongs to the caller.
package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Generator produces free text from a prompt. Implementations may return
// syntactically invalid or truncated output; callers must repair before use.
type Generator interface {
	Generate(ctx context.Context, prompt, systemInstruction string, maxTokens int, temperature float64) (string, error)
}

// GenAIClient is the Gemini-backed Generator.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Generator backed by the Gemini API.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &GenAIClient{client: client, model: model}, nil
}

func (c *GenAIClient) Generate(ctx context.Context, prompt, systemInstruction string, maxTokens int, temperature float64) (string, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr(float32(temperature)),
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("genai: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai: empty response")
	}
	return text, nil
}
