//go:build ignore

// emergence_probe is a sample knowledge algorithm interpreted at runtime by
// the plugin registry. It scans the payload for textual markers of runaway
// or self-amplifying behavior and scores them. Stage 8 consults it under
// the fanout policy.
package ka

import (
	"fmt"
	"strings"
)

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	meta := map[string]interface{}{
		"name":        "emergence_probe",
		"version":     "1.0.0",
		"description": "scores textual markers of self-amplifying behavior in accumulated findings",
	}

	markers := []string{
		"self-modif",
		"self-replicat",
		"unbounded",
		"recursive improvement",
		"goal drift",
		"capability jump",
	}

	runner := func(input map[string]interface{}, kaCtx map[string]interface{}) (map[string]interface{}, error) {
		var corpus strings.Builder
		for _, v := range input {
			if s, ok := v.(string); ok {
				corpus.WriteString(strings.ToLower(s))
				corpus.WriteByte(' ')
			}
		}
		text := corpus.String()

		signals := make([]interface{}, 0, len(markers))
		for _, m := range markers {
			if strings.Contains(text, m) {
				signals = append(signals, m)
			}
		}

		score := 0.18 * float64(len(signals))
		if score > 1 {
			score = 1
		}

		return map[string]interface{}{
			"emergence_score": score,
			"signals":         signals,
			"fields_scanned":  len(input),
			"confidence":      0.85,
			"entropy":         0.2 + 0.4*score,
			"trace":           fmt.Sprintf("%d of %d markers present", len(signals), len(markers)),
		}, nil
	}

	return meta, runner
}
