// Package audit implements the append-only, in-memory audit log shared by
// every component of the simulation engine. Each entry carries a content
// hash over its canonical JSON rendering, and, when chaining is enabled,
// a tamper-evident chain hash linking it to its predecessor.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-sim/strata/pkg/masking"
	"github.com/strata-sim/strata/pkg/models"
)

// EventType classifies an audit entry. The set is closed: Log rejects
// anything not listed below.
type EventType string

const (
	EventSimulationStart     EventType = "simulation_start"
	EventSimulationEnd       EventType = "simulation_end"
	EventSimulationPass      EventType = "simulation_pass"
	EventMemoryPatch         EventType = "memory_patch"
	EventFork                EventType = "fork"
	EventAgentDecision       EventType = "agent_decision"
	EventEscalation          EventType = "escalation"
	EventContainmentTrigger  EventType = "containment_trigger"
	EventComplianceViolation EventType = "compliance_violation"
	EventCert                EventType = "cert"
	EventAIInteraction       EventType = "ai_interaction"
	EventAIStreamComplete    EventType = "ai_stream_complete"
	EventKAExecutionStart    EventType = "ka_execution_start"
	EventKAExecutionSuccess  EventType = "ka_execution_success"
	EventKAExecutionFailure  EventType = "ka_execution_failure"
	EventContainmentReset    EventType = "containment_reset"
)

var validEventTypes = map[EventType]bool{
	EventSimulationStart:     true,
	EventSimulationEnd:       true,
	EventSimulationPass:      true,
	EventMemoryPatch:         true,
	EventFork:                true,
	EventAgentDecision:       true,
	EventEscalation:          true,
	EventContainmentTrigger:  true,
	EventComplianceViolation: true,
	EventCert:                true,
	EventAIInteraction:       true,
	EventAIStreamComplete:    true,
	EventKAExecutionStart:    true,
	EventKAExecutionSuccess:  true,
	EventKAExecutionFailure:  true,
	EventContainmentReset:    true,
}

// GenesisHash is the prev-chain value of the first entry when chaining is on.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single immutable audit record.
type Entry struct {
	EntryID       string         `json:"entry_id"`
	EntryHash     string         `json:"entry_hash"`
	PrevChainHash string         `json:"prev_chain_hash,omitempty"`
	ChainHash     string         `json:"chain_hash,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"event_type"`
	Stage         *int           `json:"stage,omitempty"`
	SimulationID  string         `json:"simulation_id,omitempty"`
	Persona       string         `json:"persona,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	ForkedFrom    string         `json:"forked_from,omitempty"`
	Certificate   map[string]any `json:"certificate,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Record is the caller-facing payload for Log. Everything except EventType
// is optional.
type Record struct {
	EventType    EventType
	Details      map[string]any
	Stage        *int
	SimulationID string
	Persona      string
	Confidence   *float64
	ForkedFrom   string
	Certificate  map[string]any
}

// Filter narrows Query results. Zero values mean "no constraint".
type Filter struct {
	EventType    EventType
	Stage        *int
	SimulationID string
	Persona      string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// Bundle is a point-in-time export of entries for one simulation (or all).
type Bundle struct {
	BundleID    string    `json:"bundle_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Count       int       `json:"count"`
	Entries     []*Entry  `json:"entries"`
}

// Log is the process-global audit trail. A single mutex serializes
// mutations; readers take the same lock briefly to snapshot and then work
// on clones, so long exports never block writers for their full duration.
type Log struct {
	mu       sync.RWMutex
	entries  []*Entry
	byID     map[string]*Entry
	chain    bool
	redactor *masking.Redactor
	logger   *slog.Logger
}

// Options configures a Log.
type Options struct {
	// Chain enables the prev-hash/chain-hash linkage across entries.
	Chain bool
	// Redactor masks secrets out of Details before storage. Nil disables
	// masking.
	Redactor *masking.Redactor
}

// New creates an empty audit log.
func New(opts Options) *Log {
	return &Log{
		byID:     make(map[string]*Entry),
		chain:    opts.Chain,
		redactor: opts.Redactor,
		logger:   slog.With("component", "audit"),
	}
}

// Log appends a new entry. Details are deep-copied and pass through the
// masking redactor before storage; the entry hash is computed over the
// canonical JSON of the stored (masked) content.
func (l *Log) Log(rec Record) (*Entry, error) {
	if !validEventTypes[rec.EventType] {
		return nil, fmt.Errorf("unknown audit event type %q", rec.EventType)
	}

	details := models.CloneMap(rec.Details)
	if l.redactor != nil && details != nil {
		details = l.redactor.RedactMap(details)
	}

	entry := &Entry{
		EntryID:      uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		EventType:    rec.EventType,
		Stage:        cloneIntPtr(rec.Stage),
		SimulationID: rec.SimulationID,
		Persona:      rec.Persona,
		Confidence:   cloneFloatPtr(rec.Confidence),
		ForkedFrom:   rec.ForkedFrom,
		Certificate:  models.CloneMap(rec.Certificate),
		Details:      details,
	}

	hash, err := contentHash(entry)
	if err != nil {
		return nil, fmt.Errorf("hashing audit entry: %w", err)
	}
	entry.EntryHash = hash

	l.mu.Lock()
	if l.chain {
		prev := GenesisHash
		if n := len(l.entries); n > 0 {
			prev = l.entries[n-1].ChainHash
		}
		entry.PrevChainHash = prev
		entry.ChainHash = chainHash(prev, entry.EntryHash)
	}
	l.entries = append(l.entries, entry)
	l.byID[entry.EntryID] = entry
	l.mu.Unlock()

	l.logger.Debug("Audit entry logged",
		"event_type", entry.EventType,
		"simulation_id", entry.SimulationID,
		"entry_id", entry.EntryID)
	return cloneEntry(entry), nil
}

// Query returns entries matching the filter in insertion order. Offset and
// Limit apply after filtering.
func (l *Log) Query(f Filter) []*Entry {
	l.mu.RLock()
	snapshot := make([]*Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	var out []*Entry
	for _, e := range snapshot {
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	cloned := make([]*Entry, len(out))
	for i, e := range out {
		cloned[i] = cloneEntry(e)
	}
	return cloned
}

// GetByID returns the entry with the given id, or nil when unknown.
func (l *Log) GetByID(id string) *Entry {
	l.mu.RLock()
	e := l.byID[id]
	l.mu.RUnlock()
	if e == nil {
		return nil
	}
	return cloneEntry(e)
}

// SnapshotBundle exports all entries for the simulation (all simulations
// when simulationID is empty) logged at or after since.
func (l *Log) SnapshotBundle(simulationID string, since time.Time) *Bundle {
	entries := l.Query(Filter{SimulationID: simulationID, Since: since})
	return &Bundle{
		BundleID:    uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Count:       len(entries),
		Entries:     entries,
	}
}

// Len reports the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ClearAll drops every entry and resets the chain to genesis.
func (l *Log) ClearAll() {
	l.mu.Lock()
	l.entries = nil
	l.byID = make(map[string]*Entry)
	l.mu.Unlock()
	l.logger.Info("Audit log cleared")
}

// ClearSimulation removes all entries belonging to one simulation and
// relinks the chain across the survivors, so VerifyChain still passes on
// the remaining content. Returns the number of removed entries.
func (l *Log) ClearSimulation(simulationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.SimulationID == simulationID {
			delete(l.byID, e.EntryID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if l.chain && removed > 0 {
		prev := GenesisHash
		for _, e := range l.entries {
			e.PrevChainHash = prev
			e.ChainHash = chainHash(prev, e.EntryHash)
			prev = e.ChainHash
		}
	}
	if removed > 0 {
		l.logger.Info("Audit entries cleared for simulation",
			"simulation_id", simulationID, "removed", removed)
	}
	return removed
}

// VerifyChain recomputes every entry hash and, when chaining is enabled,
// every chain link. It returns true with index -1 when the log is intact,
// otherwise false with the index of the first broken entry.
func (l *Log) VerifyChain() (bool, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := GenesisHash
	for i, e := range l.entries {
		hash, err := contentHash(e)
		if err != nil || hash != e.EntryHash {
			return false, i
		}
		if l.chain {
			if e.PrevChainHash != prev || e.ChainHash != chainHash(prev, e.EntryHash) {
				return false, i
			}
			prev = e.ChainHash
		}
	}
	return true, -1
}

// ──────────────────────────────────────────────────────────────
// Hashing and filtering internals
// ──────────────────────────────────────────────────────────────

// contentHash hashes the immutable content of an entry: timestamp,
// event type, stage, simulation id, persona, details and fork origin.
// Identifiers and chain fields are excluded so the hash is a pure function
// of what happened, not of storage bookkeeping.
func contentHash(e *Entry) (string, error) {
	content := map[string]any{
		"timestamp":     float64(e.Timestamp.UnixNano()) / 1e9,
		"event_type":    string(e.EventType),
		"stage":         nullableInt(e.Stage),
		"simulation_id": nullableString(e.SimulationID),
		"persona":       nullableString(e.Persona),
		"details":       e.Details,
		"forked_from":   nullableString(e.ForkedFrom),
	}
	return CanonicalHash(content)
}

func chainHash(prev, entryHash string) string {
	sum := sha256.Sum256([]byte(prev + entryHash))
	return hex.EncodeToString(sum[:])
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func matches(e *Entry, f Filter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Stage != nil && (e.Stage == nil || *e.Stage != *f.Stage) {
		return false
	}
	if f.SimulationID != "" && e.SimulationID != f.SimulationID {
		return false
	}
	if f.Persona != "" && !strings.EqualFold(e.Persona, f.Persona) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

func cloneEntry(e *Entry) *Entry {
	out := *e
	out.Stage = cloneIntPtr(e.Stage)
	out.Confidence = cloneFloatPtr(e.Confidence)
	out.Certificate = models.CloneMap(e.Certificate)
	out.Details = models.CloneMap(e.Details)
	return &out
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EventTypes returns the closed set of valid event types in sorted order.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(validEventTypes))
	for t := range validEventTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
