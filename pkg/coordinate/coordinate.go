// Package coordinate implements the thirteen-axis coordinate codec used to
// address cells in the memory graph. A coordinate is an ordered tuple of
// thirteen fields; its canonical wire form is the pipe-joined encoding
//
//	pillar|sector|honeycomb|branch|node|regulatory|compliance|role_knowledge|role_sector|role_regulatory|role_compliance|location|temporal
//
// Equality is defined over the canonical encoding, and the coordinate hash is
// the SHA-256 of that encoding, so two lexically equal encodings always hash
// identically regardless of how the coordinate was constructed.
package coordinate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldCount is the number of axes in a coordinate.
const FieldCount = 13

var (
	pillarPattern        = regexp.MustCompile(`^PL\d{1,2}(\.\d+){0,2}$`)
	temporalEventPattern = regexp.MustCompile(`^[A-Za-z0-9\-\s_:]+$`)
)

// temporal accepts ISO-8601 dates and datetimes before falling back to the
// free-form event-id pattern.
var temporalLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Coordinate is an ordered tuple of thirteen typed axis values. All fields
// except Pillar may be empty; Honeycomb holds zero or more crosswalk tags.
type Coordinate struct {
	Pillar         string   `json:"pillar"`
	Sector         string   `json:"sector,omitempty"`
	Honeycomb      []string `json:"honeycomb,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	Node           string   `json:"node,omitempty"`
	Regulatory     string   `json:"regulatory,omitempty"`
	Compliance     string   `json:"compliance,omitempty"`
	RoleKnowledge  string   `json:"role_knowledge,omitempty"`
	RoleSector     string   `json:"role_sector,omitempty"`
	RoleRegulatory string   `json:"role_regulatory,omitempty"`
	RoleCompliance string   `json:"role_compliance,omitempty"`
	Location       string   `json:"location,omitempty"`
	Temporal       string   `json:"temporal,omitempty"`
}

// Parse decodes the canonical pipe-joined encoding. The input must contain
// exactly thirteen pipe-delimited fields; the result is validated.
func Parse(encoded string) (Coordinate, error) {
	fields := strings.Split(encoded, "|")
	if len(fields) != FieldCount {
		return Coordinate{}, fmt.Errorf("coordinate must have exactly %d pipe-delimited fields, got %d", FieldCount, len(fields))
	}
	c := Coordinate{
		Pillar:         strings.TrimSpace(fields[0]),
		Sector:         strings.TrimSpace(fields[1]),
		Honeycomb:      splitHoneycomb(fields[2]),
		Branch:         strings.TrimSpace(fields[3]),
		Node:           strings.TrimSpace(fields[4]),
		Regulatory:     strings.TrimSpace(fields[5]),
		Compliance:     strings.TrimSpace(fields[6]),
		RoleKnowledge:  strings.TrimSpace(fields[7]),
		RoleSector:     strings.TrimSpace(fields[8]),
		RoleRegulatory: strings.TrimSpace(fields[9]),
		RoleCompliance: strings.TrimSpace(fields[10]),
		Location:       strings.TrimSpace(fields[11]),
		Temporal:       strings.TrimSpace(fields[12]),
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// FromMap decodes the JSON-object form of a coordinate. Field values may be
// strings or numbers; numeric values are normalized to their canonical
// decimal string so that a numeric sector and its string form produce the
// same coordinate (and therefore the same hash).
func FromMap(m map[string]any) (Coordinate, error) {
	c := Coordinate{
		Pillar:         stringField(m["pillar"]),
		Sector:         stringField(m["sector"]),
		Honeycomb:      honeycombField(m["honeycomb"]),
		Branch:         stringField(m["branch"]),
		Node:           stringField(m["node"]),
		Regulatory:     stringField(m["regulatory"]),
		Compliance:     stringField(m["compliance"]),
		RoleKnowledge:  stringField(m["role_knowledge"]),
		RoleSector:     stringField(m["role_sector"]),
		RoleRegulatory: stringField(m["role_regulatory"]),
		RoleCompliance: stringField(m["role_compliance"]),
		Location:       stringField(m["location"]),
		Temporal:       stringField(m["temporal"]),
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// FromAny accepts either the pipe-joined string encoding or the JSON-object
// form. API handlers use it so both shapes are valid on the wire.
func FromAny(v any) (Coordinate, error) {
	switch val := v.(type) {
	case string:
		return Parse(val)
	case map[string]any:
		return FromMap(val)
	case Coordinate:
		if err := val.Validate(); err != nil {
			return Coordinate{}, err
		}
		return val, nil
	default:
		return Coordinate{}, fmt.Errorf("coordinate must be a pipe-encoded string or an object, got %T", v)
	}
}

// Encode returns the canonical pipe-joined encoding. Honeycomb tags are
// comma-joined within their field; empty fields are empty strings.
func (c Coordinate) Encode() string {
	fields := [FieldCount]string{
		c.Pillar,
		c.Sector,
		strings.Join(c.Honeycomb, ","),
		c.Branch,
		c.Node,
		c.Regulatory,
		c.Compliance,
		c.RoleKnowledge,
		c.RoleSector,
		c.RoleRegulatory,
		c.RoleCompliance,
		c.Location,
		c.Temporal,
	}
	return strings.Join(fields[:], "|")
}

// String implements fmt.Stringer with the canonical encoding.
func (c Coordinate) String() string {
	return c.Encode()
}

// Validate checks the documented field formats: Pillar is required and must
// match PL<n>[.<n>[.<n>]]; Temporal, when present, must be an ISO-8601
// date/datetime or a free-form event id; no field may contain the pipe
// delimiter.
func (c Coordinate) Validate() error {
	if c.Pillar == "" {
		return fmt.Errorf("pillar axis is required")
	}
	if !pillarPattern.MatchString(c.Pillar) {
		return fmt.Errorf("pillar %q must match PL<n>[.<n>[.<n>]]", c.Pillar)
	}
	if c.Temporal != "" && !validTemporal(c.Temporal) {
		return fmt.Errorf("temporal %q must be an ISO-8601 date/datetime or an event id", c.Temporal)
	}
	for i, f := range []string{
		c.Pillar, c.Sector, strings.Join(c.Honeycomb, ","), c.Branch, c.Node,
		c.Regulatory, c.Compliance, c.RoleKnowledge, c.RoleSector,
		c.RoleRegulatory, c.RoleCompliance, c.Location, c.Temporal,
	} {
		if strings.Contains(f, "|") {
			return fmt.Errorf("axis %d contains the reserved pipe delimiter", i+1)
		}
	}
	return nil
}

// Hash returns the SHA-256 of the canonical encoding, lowercase hex. This is
// the key under which the memory graph stores the live cell at a coordinate.
func (c Coordinate) Hash() string {
	sum := sha256.Sum256([]byte(c.Encode()))
	return hex.EncodeToString(sum[:])
}

// UnifiedSystemID returns SHA-256(pillar|sector|location), lowercase hex —
// the stable cross-axis identity used to correlate cells that share the same
// pillar/sector/location anchor across differing role and temporal axes.
func (c Coordinate) UnifiedSystemID() string {
	sum := sha256.Sum256([]byte(c.Pillar + "|" + c.Sector + "|" + c.Location))
	return hex.EncodeToString(sum[:])
}

// IsZero reports whether the coordinate has no axis values at all.
func (c Coordinate) IsZero() bool {
	return c.Pillar == "" && c.Sector == "" && len(c.Honeycomb) == 0 &&
		c.Branch == "" && c.Node == "" && c.Regulatory == "" &&
		c.Compliance == "" && c.RoleKnowledge == "" && c.RoleSector == "" &&
		c.RoleRegulatory == "" && c.RoleCompliance == "" &&
		c.Location == "" && c.Temporal == ""
}

func validTemporal(s string) bool {
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return temporalEventPattern.MatchString(s)
}

func splitHoneycomb(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil
	}
	parts := strings.Split(field, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// stringField normalizes a single axis value from its JSON representation.
// Numbers canonicalize to their shortest decimal form so 5.0 and "5" are the
// same axis value.
func stringField(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

func honeycombField(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return splitHoneycomb(val)
	case []string:
		return splitHoneycomb(strings.Join(val, ","))
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringField(item); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return parts
	default:
		return splitHoneycomb(stringField(val))
	}
}
