package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fallback is the provider of last resort: a deterministic, offline client
// that condenses the prompt into a short synthesis. Identical requests
// always produce identical responses, which keeps stage processing
// reproducible when no real provider is configured.
type Fallback struct{}

// Name implements Client.
func (Fallback) Name() string { return "fallback" }

// Generate implements Client. It never blocks and never fails.
func (Fallback) Generate(_ context.Context, req Request) (*Response, error) {
	digest := sha256.Sum256([]byte(req.System + "\x00" + req.Prompt))
	text := condense(req.Prompt, 240)
	if text == "" {
		text = "no content provided"
	}
	return &Response{
		Text:         text,
		Model:        "deterministic-" + hex.EncodeToString(digest[:6]),
		StopReason:   "end_turn",
		InputTokens:  int64(len(strings.Fields(req.Prompt))),
		OutputTokens: int64(len(strings.Fields(text))),
	}, nil
}

// condense collapses whitespace and trims the prompt to at most max runes,
// cutting at a word boundary.
func condense(s string, max int) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	joined := strings.Join(fields, " ")
	if len(joined) <= max {
		return joined
	}
	cut := joined[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
