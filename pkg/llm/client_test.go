package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMessages records the last request and returns a canned response.
type stubMessages struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicGenerate(t *testing.T) {
	stub := &stubMessages{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "part one "},
				{Type: "tool_use"},
				{Type: "text", Text: "part two"},
			},
			Model:      sdk.Model("claude-test"),
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 7},
		},
	}
	client, err := NewAnthropicWithMessages(stub, Config{
		Model:       "claude-test",
		MaxTokens:   256,
		Temperature: 0.3,
	})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), Request{
		System: "you are a reasoning engine",
		Prompt: "analyze this",
	})
	require.NoError(t, err)

	assert.Equal(t, "part one part two", resp.Text)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)

	assert.Equal(t, int64(256), stub.lastParams.MaxTokens)
	assert.Equal(t, sdk.Model("claude-test"), stub.lastParams.Model)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "you are a reasoning engine", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestAnthropicGenerateOverrides(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{}}
	client, err := NewAnthropicWithMessages(stub, Config{MaxTokens: 256, Temperature: 0.3})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), Request{
		Prompt:      "q",
		MaxTokens:   64,
		Temperature: 0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(64), stub.lastParams.MaxTokens)
	assert.Equal(t, 0.9, stub.lastParams.Temperature.Value)
	assert.Empty(t, stub.lastParams.System, "no system prompt requested")
}

func TestAnthropicGenerateErrors(t *testing.T) {
	stub := &stubMessages{err: errors.New("rate limited")}
	client, err := NewAnthropicWithMessages(stub, Config{})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	_, err = client.Generate(context.Background(), Request{Prompt: "   "})
	require.Error(t, err, "blank prompt rejected before any provider call")
}

func TestNewAnthropicValidation(t *testing.T) {
	_, err := NewAnthropic(Config{})
	assert.Error(t, err, "missing api key")

	_, err = NewAnthropicWithMessages(nil, Config{})
	assert.Error(t, err, "missing messages client")
}

func TestAnthropicDefaults(t *testing.T) {
	client, err := NewAnthropicWithMessages(&stubMessages{resp: &sdk.Message{}}, Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultModel, client.model)
	assert.Equal(t, defaultMaxTokens, client.maxTokens)
	assert.Equal(t, defaultTimeout, client.timeout)
}

func TestFallbackIsDeterministic(t *testing.T) {
	fb := Fallback{}
	req := Request{System: "sys", Prompt: "  What   is\n2+2?  "}

	first, err := fb.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := fb.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "What is 2+2?", first.Text, "whitespace collapsed")
	assert.Contains(t, first.Model, "deterministic-")
	assert.Equal(t, "end_turn", first.StopReason)
}

func TestFallbackCondensesLongPrompts(t *testing.T) {
	long := ""
	for range 100 {
		long += "lengthy-token "
	}
	resp, err := Fallback{}.Generate(context.Background(), Request{Prompt: long})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Text), 240)
	assert.NotContains(t, resp.Text, "  ")

	empty, err := Fallback{}.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "no content provided", empty.Text)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
	}{
		{"no provider", Config{}, "fallback"},
		{"explicit none", Config{Provider: "none"}, "fallback"},
		{"anthropic without key", Config{Provider: "anthropic"}, "fallback"},
		{"anthropic with key", Config{Provider: "anthropic", APIKey: "sk-test", Timeout: time.Second}, "anthropic"},
		{"unknown provider", Config{Provider: "martian"}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := FromConfig(tt.cfg)
			assert.Equal(t, tt.wantName, client.Name())
		})
	}
}
