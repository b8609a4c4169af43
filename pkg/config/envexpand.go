package config

import (
	"os"
	"strings"
)

// ExpandEnv replaces ${VAR_NAME} references in raw YAML content with the
// value of the named environment variable. Only the braced form expands;
// a bare $ passes through untouched, so regex patterns and literal dollar
// signs in values survive. Unset variables expand to the empty string and
// validation catches required fields left empty.
func ExpandEnv(data []byte) []byte {
	s := string(data)
	if !strings.Contains(s, "${") {
		return data
	}

	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		name := s[start+2 : start+end]
		b.WriteString(s[:start])
		if validEnvName(name) {
			b.WriteString(os.Getenv(name))
		} else {
			// Not an env reference (empty or odd characters); keep the
			// text as written.
			b.WriteString(s[start : start+end+1])
		}
		s = s[start+end+1:]
	}
	return []byte(b.String())
}

// validEnvName accepts the POSIX-ish names used for environment variables:
// letters, digits and underscores, not starting with a digit.
func validEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
