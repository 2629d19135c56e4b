package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// contentGenerator is the slice of the genai client this adapter uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAdapter answers turns with a single GenerateContent call per turn.
type GeminiAdapter struct {
	models contentGenerator
	model  string
}

func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig) (*GeminiAdapter, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiAdapter{models: client.Models, model: model}, nil
}

func (a *GeminiAdapter) Converse(ctx context.Context, req Request) (Reply, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: BuildPrompt(req)}},
	}}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
	}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: gemini: %w", ErrAgent, err)
	}
	if resp == nil {
		return Reply{}, fmt.Errorf("%w: gemini returned no response", ErrAgent)
	}
	reply := ParseReply(resp.Text())
	if reply.Text == "" && !reply.Terminate {
		return Reply{}, fmt.Errorf("%w: gemini returned empty text", ErrAgent)
	}
	return reply, nil
}
