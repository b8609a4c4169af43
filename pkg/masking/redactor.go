// Package masking redacts secret material from free-form payloads before
// they reach the audit log. Patterns are regex-based and applied to every
// string value in a payload, recursively.
package masking

import (
	"log/slog"
	"regexp"
	"slices"

	"github.com/strata-sim/strata/pkg/models"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

type rawPattern struct {
	pattern     string
	replacement string
	description string
}

// builtinPatterns is the default pattern set. Hash-like hex and base64
// blobs are deliberately not matched: audit entries legitimately carry
// SHA-256 digests and cell ids.
var builtinPatterns = map[string]rawPattern{
	"api_key": {
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `"api_key": "__MASKED_API_KEY__"`,
		description: "API keys",
	},
	"password": {
		pattern:     `(?i)(?:password|pwd|passwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		replacement: `"password": "__MASKED_PASSWORD__"`,
		description: "Passwords",
	},
	"certificate": {
		pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		replacement: `__MASKED_CERTIFICATE__`,
		description: "PEM certificate blocks",
	},
	"token": {
		pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `"token": "__MASKED_TOKEN__"`,
		description: "Access tokens",
	},
	"ssh_key": {
		pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		replacement: `__MASKED_SSH_KEY__`,
		description: "SSH public keys",
	},
	"private_key": {
		pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
		description: "Private keys",
	},
	"secret_key": {
		pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
		description: "Secret keys",
	},
	"aws_access_key": {
		pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
		replacement: `"aws_access_key_id": "__MASKED_AWS_KEY__"`,
		description: "AWS access keys",
	},
	"github_token": {
		pattern:     `gh[ps]_[A-Za-z0-9_]{36,255}`,
		replacement: `__MASKED_GITHUB_TOKEN__`,
		description: "GitHub tokens",
	},
	"slack_token": {
		pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		replacement: `__MASKED_SLACK_TOKEN__`,
		description: "Slack tokens",
	},
}

// Redactor applies the compiled pattern set to strings and payload maps.
type Redactor struct {
	patterns []*CompiledPattern
	logger   *slog.Logger
}

// NewRedactor compiles the built-in pattern set. Patterns that fail to
// compile are logged and skipped.
func NewRedactor() *Redactor {
	logger := slog.With("component", "masking")

	names := make([]string, 0, len(builtinPatterns))
	for name := range builtinPatterns {
		names = append(names, name)
	}
	slices.Sort(names)

	compiled := make([]*CompiledPattern, 0, len(names))
	for _, name := range names {
		raw := builtinPatterns[name]
		re, err := regexp.Compile(raw.pattern)
		if err != nil {
			logger.Error("Failed to compile masking pattern, skipping", "pattern", name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: raw.replacement,
			Description: raw.description,
		})
	}
	return &Redactor{patterns: compiled, logger: logger}
}

// Patterns returns the names of the active patterns, sorted.
func (r *Redactor) Patterns() []string {
	names := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		names[i] = p.Name
	}
	return names
}

// RedactString applies every pattern to the input and returns the masked
// result.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactMap deep-copies the payload and masks every string value in it,
// including strings nested in maps and slices. The input is never mutated.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if r == nil || m == nil {
		return m
	}
	out := models.CloneMap(m)
	r.redactInPlace(out)
	return out
}

func (r *Redactor) redactInPlace(m map[string]any) {
	for k, v := range m {
		m[k] = r.redactValue(v)
	}
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactString(val)
	case map[string]any:
		r.redactInPlace(val)
		return val
	case []any:
		for i, item := range val {
			val[i] = r.redactValue(item)
		}
		return val
	case []string:
		for i, s := range val {
			val[i] = r.RedactString(s)
		}
		return val
	default:
		return val
	}
}
