// Package allocation validates mutations of a portfolio's allocation set.
package allocation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/folio/internal/contracts"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// NewAllocation is an add request; Weight is a percentage
type NewAllocation struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Mutation is one logical change request. Steps run toggle, remove, add,
// then the enabled-total check; any failure discards the whole request.
type Mutation struct {
	ToggleID *int64         `json:"toggle,omitempty"`
	RemoveID *int64         `json:"remove,omitempty"`
	Add      *NewAllocation `json:"add,omitempty"`
}

// Empty reports whether the mutation requests nothing
func (m Mutation) Empty() bool {
	return m.ToggleID == nil && m.RemoveID == nil && m.Add == nil
}

// Plan is a validated mutation ready to persist
type Plan struct {
	Toggled []contracts.Allocation
	Removed []int64
	Added   *contracts.Allocation
	// Result is the full set after the mutation
	Result []contracts.Allocation
}

// Apply validates m against current and returns the resulting plan.
// current is never modified. Failures are *contracts.ValidationErrors.
func Apply(current []contracts.Allocation, m Mutation) (*Plan, error) {
	errs := &contracts.ValidationErrors{}
	working := make([]contracts.Allocation, len(current))
	copy(working, current)

	plan := &Plan{}
	now := time.Now()

	if m.ToggleID != nil {
		if i := indexOf(working, *m.ToggleID); i < 0 {
			errs.Add("allocations", contracts.CodeNotFound, "Allocation not found")
		} else {
			working[i].Enabled = !working[i].Enabled
			working[i].UpdatedAt = now
			plan.Toggled = append(plan.Toggled, working[i])
		}
	}

	if m.RemoveID != nil {
		if i := indexOf(working, *m.RemoveID); i < 0 {
			errs.Add("allocations", contracts.CodeNotFound, "Allocation not found")
		} else {
			plan.Removed = append(plan.Removed, working[i].ID)
			working = append(working[:i], working[i+1:]...)
		}
	}

	if m.Add != nil {
		if added, ok := validateAdd(working, *m.Add, errs); ok {
			added.CreatedAt, added.UpdatedAt = now, now
			plan.Added = &added
			working = append(working, added)
		}
	}

	if errs.Empty() && enabledTotal(working).GreaterThan(hundred) {
		errs.Add("allocations", contracts.CodeTotalExceeded, "Total allocations cannot exceed 100%")
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	plan.Result = working
	return plan, nil
}

// Validate checks an existing set against the enabled-total invariant
func Validate(set []contracts.Allocation) error {
	if enabledTotal(set).GreaterThan(hundred) {
		return contracts.Invalid("allocations", contracts.CodeTotalExceeded, "Total allocations cannot exceed 100%")
	}
	return nil
}

// Import validates a full replacement set, such as allocations supplied with
// a copy request. Every entry is checked like an add; the enabled flag is
// kept. The enabled-total check is left to Validate.
func Import(entries []contracts.Allocation) ([]contracts.Allocation, error) {
	errs := &contracts.ValidationErrors{}
	out := make([]contracts.Allocation, 0, len(entries))

	for _, e := range entries {
		a, ok := validateAdd(out, NewAllocation{Name: e.Name, Weight: e.Percentage}, errs)
		if !ok {
			continue
		}
		a.Enabled = e.Enabled
		out = append(out, a)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CopyFrom returns unsaved clones of source for another portfolio
func CopyFrom(source []contracts.Allocation) []contracts.Allocation {
	out := make([]contracts.Allocation, 0, len(source))
	for _, a := range source {
		out = append(out, contracts.Allocation{
			Name:       a.Name,
			Percentage: a.Percentage,
			Enabled:    a.Enabled,
		})
	}
	return out
}

func validateAdd(working []contracts.Allocation, req NewAllocation, errs *contracts.ValidationErrors) (contracts.Allocation, bool) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		errs.Add("name", contracts.CodeBlank, "Allocation name cannot be blank")
		return contracts.Allocation{}, false
	}

	// stored as NUMERIC(5,2)
	pct := decimal.NewFromFloat(req.Weight).Round(2)
	if !pct.GreaterThan(zero) || pct.GreaterThan(hundred) {
		errs.Add("weight", contracts.CodeRange, "Weight must be greater than 0 and at most 100")
		return contracts.Allocation{}, false
	}

	for _, a := range working {
		if strings.EqualFold(a.Name, name) {
			errs.Add("name", contracts.CodeDuplicate, "An allocation with this name already exists")
			return contracts.Allocation{}, false
		}
	}

	return contracts.Allocation{
		Name:       name,
		Percentage: pct.InexactFloat64(),
		Enabled:    true,
	}, true
}

func enabledTotal(set []contracts.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range set {
		if a.Enabled {
			total = total.Add(decimal.NewFromFloat(a.Percentage).Round(2))
		}
	}
	return total
}

func indexOf(set []contracts.Allocation, id int64) int {
	for i, a := range set {
		if a.ID == id {
			return i
		}
	}
	return -1
}
