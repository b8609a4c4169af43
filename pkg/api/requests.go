package api

// StartSimulationRequest is the body of POST /simulation/start. Prompt and
// Query are aliases on the wire; prompt wins when both are set.
type StartSimulationRequest struct {
	Prompt    string         `json:"prompt"`
	Query     string         `json:"query"`
	Mode      string         `json:"mode"`
	MaxStages int            `json:"max_stages"`
	Context   map[string]any `json:"context"`
}

// StepSimulationRequest is the optional body of POST /simulation/step/:id.
// Stage 0 (or no body) means "whatever stage comes next".
type StepSimulationRequest struct {
	Stage int `json:"stage"`
}

// ContainSimulationRequest is the body of POST /simulation/contain/:id.
type ContainSimulationRequest struct {
	Reason string `json:"reason"`
}

// PatchMemoryRequest is the body of POST /memory/patch. Coordinate accepts
// the pipe-encoded string or the JSON-object form.
type PatchMemoryRequest struct {
	Coordinate any            `json:"coordinate"`
	Value      any            `json:"value"`
	Meta       map[string]any `json:"meta"`
	Persona    string         `json:"persona"`
}

// RunPluginRequest is the body of POST /plugin/ka/run/:name.
type RunPluginRequest struct {
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context"`
}

// ResolveViolationRequest is the body of POST /compliance/resolve/:id.
type ResolveViolationRequest struct {
	Note string `json:"note"`
}

// ResetContainmentRequest is the body of POST /compliance/reset.
type ResetContainmentRequest struct {
	Reason string `json:"reason"`
}
