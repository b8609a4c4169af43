package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("STRATA_HOST", "example.internal")
	t.Setenv("STRATA_PORT", "9443")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single reference",
			input: "host: ${STRATA_HOST}",
			want:  "host: example.internal",
		},
		{
			name:  "multiple references on one line",
			input: "addr: ${STRATA_HOST}:${STRATA_PORT}",
			want:  "addr: example.internal:9443",
		},
		{
			name:  "unset variable expands empty",
			input: "key: ${STRATA_DOES_NOT_EXIST}",
			want:  "key: ",
		},
		{
			name:  "bare dollar untouched",
			input: "pattern: ^secret.*$",
			want:  "pattern: ^secret.*$",
		},
		{
			name:  "unbraced form untouched",
			input: "path: $STRATA_HOST/bin",
			want:  "path: $STRATA_HOST/bin",
		},
		{
			name:  "unterminated brace untouched",
			input: "weird: ${STRATA_HOST",
			want:  "weird: ${STRATA_HOST",
		},
		{
			name:  "invalid name untouched",
			input: "regex: ${2,3}",
			want:  "regex: ${2,3}",
		},
		{
			name:  "empty braces untouched",
			input: "regex: a${}b",
			want:  "regex: a${}b",
		},
		{
			name:  "no references",
			input: "plain: value",
			want:  "plain: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
