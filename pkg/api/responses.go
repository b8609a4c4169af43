package api

import (
	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/audit"
	"github.com/strata-sim/strata/pkg/compliance"
	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/models"
	"github.com/strata-sim/strata/pkg/services"
)

// errorResponse is the {ok:false} half of the response envelope.
type errorResponse struct {
	OK    bool      `json:"ok"`
	Error *APIError `json:"error"`
}

// StartSimulationResponse is returned by POST /simulation/start. Result is
// set only for auto mode, where the run finished before the call returned.
type StartSimulationResponse struct {
	OK        bool                 `json:"ok"`
	SessionID string               `json:"session_id"`
	RunID     string               `json:"run_id,omitempty"`
	Mode      string               `json:"mode"`
	Status    models.SessionStatus `json:"status"`
	Result    *models.RunResult    `json:"result,omitempty"`
}

// StepSimulationResponse is returned by POST /simulation/step/:id. Layer is
// the layer this step committed; nil when the stage was a registry hole.
type StepSimulationResponse struct {
	OK      bool               `json:"ok"`
	Session *models.Session    `json:"session"`
	Layer   *models.LayerState `json:"layer,omitempty"`
}

// SessionResponse is returned by GET /simulation/session/:id and the pause
// endpoint.
type SessionResponse struct {
	OK      bool            `json:"ok"`
	Session *models.Session `json:"session"`
}

// SessionListResponse is returned by GET /simulation/sessions.
type SessionListResponse struct {
	OK       bool              `json:"ok"`
	Count    int               `json:"count"`
	Sessions []*models.Session `json:"sessions"`
}

// ResumeSimulationResponse is returned by POST /simulation/resume/:id.
type ResumeSimulationResponse struct {
	OK     bool              `json:"ok"`
	Result *models.RunResult `json:"result"`
}

// ContainSimulationResponse is returned by POST /simulation/contain/:id.
type ContainSimulationResponse struct {
	OK          bool                    `json:"ok"`
	SessionID   string                  `json:"session_id"`
	Certificate *compliance.Certificate `json:"certificate"`
}

// MemoryCellResponse is returned by GET /memory/cell.
type MemoryCellResponse struct {
	OK   bool         `json:"ok"`
	Cell *memory.Cell `json:"cell"`
}

// MemoryPatchResponse is returned by POST /memory/patch.
type MemoryPatchResponse struct {
	OK   bool         `json:"ok"`
	Cell *memory.Cell `json:"cell"`
}

// MemoryAncestryResponse is returned by GET /memory/ancestry/:id. Chain is
// ordered root ancestor first.
type MemoryAncestryResponse struct {
	OK    bool           `json:"ok"`
	Chain []*memory.Cell `json:"chain"`
}

// MemoryStatsResponse is returned by GET /memory/stats.
type MemoryStatsResponse struct {
	OK bool `json:"ok"`
	memory.Stats
}

// AuditLogResponse is returned by GET /audit/log.
type AuditLogResponse struct {
	OK      bool           `json:"ok"`
	Count   int            `json:"count"`
	Entries []*audit.Entry `json:"entries"`
}

// AuditBundleResponse is returned by GET /audit/bundle.
type AuditBundleResponse struct {
	OK     bool          `json:"ok"`
	Bundle *audit.Bundle `json:"bundle"`
}

// AuditVerifyResponse is returned by GET /audit/verify. OK reports the
// request outcome; Valid reports the chain walk.
type AuditVerifyResponse struct {
	OK bool `json:"ok"`
	*services.ChainReport
}

// PluginReloadResponse is returned by POST /plugin/ka/reload.
type PluginReloadResponse struct {
	OK     bool     `json:"ok"`
	Count  int      `json:"count"`
	Loaded []string `json:"loaded"`
}

// PluginListResponse is returned by GET /plugin/ka/list.
type PluginListResponse struct {
	OK      bool                  `json:"ok"`
	Plugins []services.PluginInfo `json:"plugins"`
}

// PluginRunResponse is returned by POST /plugin/ka/run/:name. The embedded
// result keeps output/confidence/entropy/trace at the top level, crashed
// plugins included.
type PluginRunResponse struct {
	OK bool `json:"ok"`
	*ka.Result
}

// ComplianceStatusResponse is returned by GET /compliance/status.
type ComplianceStatusResponse struct {
	OK bool `json:"ok"`
	*compliance.StatusReport
}

// ViolationListResponse is returned by GET /compliance/violations.
type ViolationListResponse struct {
	OK         bool                    `json:"ok"`
	Count      int                     `json:"count"`
	Violations []*compliance.Violation `json:"violations"`
}

// AgentStatsResponse is returned by GET /agents/stats.
type AgentStatsResponse struct {
	OK bool `json:"ok"`
	*agents.Stats
}

// SystemWarningsResponse is returned by GET /system/warnings.
type SystemWarningsResponse struct {
	OK       bool                      `json:"ok"`
	Warnings []*services.SystemWarning `json:"warnings"`
}

// HealthCheck is one component's probe outcome inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	OK      bool                   `json:"ok"`
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	OK      bool   `json:"ok"`
	App     string `json:"app"`
	Version string `json:"version"`
}

// AckResponse acknowledges a state change that returns no payload.
type AckResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
