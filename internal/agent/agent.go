// Package agent runs prompts against a generative research provider.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/genai"
)

// Agent returns free text for a prompt.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

var (
	ErrDisabled      = errors.New("agent disabled")
	ErrEmptyResponse = errors.New("agent returned no text")
)

// Settings shared by providers.
type Settings struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
}

// Disabled always fails, which downstream stages treat as a degraded result.
type Disabled struct{}

func (Disabled) Run(context.Context, string) (string, error) { return "", ErrDisabled }

type anthropicCreate func(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)

// Anthropic runs prompts through the Messages API.
type Anthropic struct {
	settings Settings
	create   anthropicCreate
}

func NewAnthropic(s Settings, opts ...option.RequestOption) (*Anthropic, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if s.Model == "" {
		s.Model = "claude-sonnet-4-5"
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4096
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(s.APIKey)}, opts...)...)
	return &Anthropic{settings: s, create: client.Messages.New}, nil
}

func (a *Anthropic) Run(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.settings.Model),
		MaxTokens: int64(a.settings.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.settings.Temperature > 0 {
		params.Temperature = anthropic.Float(a.settings.Temperature)
	}
	if a.settings.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.settings.System}}
	}
	resp, err := a.create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}

type geminiGenerate func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Gemini runs prompts through the Gemini API.
type Gemini struct {
	settings Settings
	generate geminiGenerate
}

func NewGemini(ctx context.Context, s Settings) (*Gemini, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if s.Model == "" {
		s.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{settings: s, generate: client.Models.GenerateContent}, nil
}

func (g *Gemini) Run(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.settings.Temperature)),
	}
	if g.settings.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(g.settings.System, genai.RoleUser)
	}
	resp, err := g.generate(ctx, g.settings.Model, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	var out strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part != nil && part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}
