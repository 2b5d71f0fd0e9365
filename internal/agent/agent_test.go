package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestAnthropicRunBuildsRequest(t *testing.T) {
	var got anthropic.MessageNewParams
	a := &Anthropic{
		settings: Settings{Model: "claude-test", MaxTokens: 100, Temperature: 0.2, System: "be terse"},
		create: func(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
			got = body
			return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "hello"}}}, nil
		},
	}
	out, err := a.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, anthropic.Model("claude-test"), got.Model)
	assert.Equal(t, int64(100), got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, "be terse", got.System[0].Text)
}

func TestAnthropicEmptyAndFailure(t *testing.T) {
	a := &Anthropic{create: func(context.Context, anthropic.MessageNewParams, ...option.RequestOption) (*anthropic.Message, error) {
		return &anthropic.Message{}, nil
	}}
	_, err := a.Run(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	boom := errors.New("overloaded")
	a.create = func(context.Context, anthropic.MessageNewParams, ...option.RequestOption) (*anthropic.Message, error) {
		return nil, boom
	}
	_, err = a.Run(context.Background(), "p")
	assert.ErrorIs(t, err, boom)

	_, err = NewAnthropic(Settings{})
	assert.Error(t, err)
}

func TestGeminiRunConcatenatesParts(t *testing.T) {
	g := &Gemini{
		settings: Settings{Model: "gemini-test"},
		generate: func(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "gemini-test", model)
			require.Len(t, contents, 1)
			return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []*genai.Part{{Text: "a"}, {Text: "b"}}}},
			}}, nil
		},
	}
	out, err := g.Run(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ab", out)

	g.generate = func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}
	_, err = g.Run(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Run(context.Background(), "p")
	assert.ErrorIs(t, err, ErrDisabled)
}
