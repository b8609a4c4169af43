//go:build ignore

// branch_projection is a sample knowledge algorithm interpreted at runtime
// by the plugin registry. It projects one speculative branch per analysis
// axis from the payload it is handed. Stage 5 consults it under the
// priority policy.
package ka

import (
	"fmt"
	"sort"
)

func Register() (map[string]interface{}, func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error)) {
	meta := map[string]interface{}{
		"name":        "branch_projection",
		"version":     "1.0.0",
		"description": "projects alternative outcome branches along the active analysis axes",
	}

	runner := func(input map[string]interface{}, kaCtx map[string]interface{}) (map[string]interface{}, error) {
		axes, _ := kaCtx["axes"].([]string)
		if len(axes) == 0 {
			axes = []string{"semantic", "causal", "temporal"}
		}
		if len(axes) > 4 {
			axes = axes[:4]
		}

		evidence := make([]string, 0, len(input))
		for k := range input {
			evidence = append(evidence, k)
		}
		sort.Strings(evidence)

		branches := make([]interface{}, 0, len(axes))
		for i, axis := range axes {
			weight := 0.62 + 0.07*float64(i)
			if weight > 0.9 {
				weight = 0.9
			}
			branches = append(branches, map[string]interface{}{
				"branch_id":            fmt.Sprintf("proj-%d", i+1),
				"axis":                 axis,
				"premise":              fmt.Sprintf("outcome projected along the %s axis from %d evidence fields", axis, len(evidence)),
				"projected_confidence": weight,
			})
		}

		return map[string]interface{}{
			"branches":        branches,
			"evidence_fields": evidence,
			"method":          "axis projection",
			"confidence":      0.78 + 0.02*float64(len(axes)),
			"entropy":         0.35,
			"trace":           fmt.Sprintf("projected %d branches over %d axes", len(branches), len(axes)),
		}, nil
	}

	return meta, runner
}
