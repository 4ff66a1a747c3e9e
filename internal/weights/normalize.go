package weights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/folio/internal/contracts"
)

// RawAllocation is the tolerant wire form of an allocation.
// Older payloads carry the percentage under "weight" and may omit "enabled".
type RawAllocation struct {
	ID         int64    `json:"id,omitempty"`
	Name       string   `json:"name"`
	Percentage *float64 `json:"percentage,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// Canonical converts to the one representation the calculator understands
func (r RawAllocation) Canonical() contracts.Allocation {
	a := contracts.Allocation{ID: r.ID, Name: r.Name, Enabled: true}
	switch {
	case r.Percentage != nil:
		a.Percentage = *r.Percentage
	case r.Weight != nil:
		a.Percentage = *r.Weight
	}
	if r.Enabled != nil {
		a.Enabled = *r.Enabled
	}
	return a
}

// Normalize converts raw allocations to canonical ones
func Normalize(raw []RawAllocation) []contracts.Allocation {
	out := make([]contracts.Allocation, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.Canonical())
	}
	return out
}

// ParseAllocations decodes either a JSON array of allocation objects or the
// legacy name-keyed object whose values are a bare number or {weight, enabled}.
func ParseAllocations(data []byte) ([]contracts.Allocation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var raw []RawAllocation
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode allocation list: %w", err)
		}
		return Normalize(raw), nil
	case '{':
		return parseAllocationMap(data)
	default:
		return nil, fmt.Errorf("allocations must be a JSON array or object")
	}
}

func parseAllocationMap(data []byte) ([]contracts.Allocation, error) {
	var byName map[string]json.RawMessage
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("decode allocation map: %w", err)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]contracts.Allocation, 0, len(byName))
	for _, name := range names {
		value := bytes.TrimSpace(byName[name])
		var raw RawAllocation
		if strings.HasPrefix(string(value), "{") {
			if err := json.Unmarshal(value, &raw); err != nil {
				return nil, fmt.Errorf("decode allocation %q: %w", name, err)
			}
		} else {
			var pct float64
			if err := json.Unmarshal(value, &pct); err != nil {
				return nil, fmt.Errorf("decode allocation %q: %w", name, err)
			}
			raw.Percentage = &pct
		}
		raw.Name = name
		out = append(out, raw.Canonical())
	}
	return out, nil
}
