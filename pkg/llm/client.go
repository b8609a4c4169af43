// Package llm abstracts the optional language-model provider used to enrich
// query analysis and final synthesis. The engine never requires a provider:
// when none is configured, the deterministic Fallback client stands in and
// stage processing proceeds unchanged.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Request is a single-turn generation request.
type Request struct {
	// System is the optional system prompt.
	System string
	// Prompt is the user-turn content.
	Prompt string
	// MaxTokens caps the completion; zero uses the client default.
	MaxTokens int64
	// Temperature overrides the client default when positive.
	Temperature float64
}

// Response carries the generated text plus provider bookkeeping.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Client is the provider abstraction consumed by stage processors.
type Client interface {
	// Name identifies the provider for trace and audit records.
	Name() string
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config selects and tunes the provider. APIKey is expected to arrive
// already resolved from the environment by the config layer.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// FromConfig returns the configured provider client, falling back to the
// deterministic client when no provider (or no key) is configured.
func FromConfig(cfg Config) Client {
	logger := slog.With("component", "llm")
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			logger.Warn("Anthropic provider selected but no API key configured, using fallback")
			return Fallback{}
		}
		client, err := NewAnthropic(cfg)
		if err != nil {
			logger.Warn("Anthropic client construction failed, using fallback", "error", err)
			return Fallback{}
		}
		logger.Info("LLM provider configured", "provider", "anthropic", "model", client.model)
		return client
	case "", "none":
		logger.Info("No LLM provider configured, using deterministic fallback")
		return Fallback{}
	default:
		logger.Warn("Unknown LLM provider, using fallback", "provider", cfg.Provider)
		return Fallback{}
	}
}

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService, so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements Client on top of the Claude Messages API.
type Anthropic struct {
	msg         MessagesClient
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

const (
	defaultModel     = string(sdk.ModelClaudeSonnet4_5_20250929)
	defaultMaxTokens = int64(1024)
	defaultTimeout   = 60 * time.Second
)

// NewAnthropic builds a provider client from config. The API key is
// mandatory; everything else has sensible defaults.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewAnthropicWithMessages(&ac.Messages, cfg)
}

// NewAnthropicWithMessages builds the client around an existing Messages
// client, which is how tests inject mocks.
func NewAnthropicWithMessages(msg MessagesClient, cfg Config) (*Anthropic, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	a := &Anthropic{
		msg:         msg,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
	if a.model == "" {
		a.model = defaultModel
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultMaxTokens
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	return a, nil
}

// Name implements Client.
func (a *Anthropic) Name() string { return "anthropic" }

// Generate issues a non-streaming Messages.New call and concatenates the
// text blocks of the response.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Model:     sdk.Model(a.model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if t := a.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generation failed: %w", err)
	}
	if msg == nil {
		return nil, errors.New("anthropic returned an empty response")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Response{
		Text:         sb.String(),
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

func (a *Anthropic) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return a.temperature
}
