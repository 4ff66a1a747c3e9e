package allocation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/contracts"
)

func id(v int64) *int64 { return &v }

func existing() []contracts.Allocation {
	return []contracts.Allocation{
		{ID: 1, Name: "Cash", Percentage: 20, Enabled: true},
		{ID: 2, Name: "Bonds", Percentage: 30, Enabled: false},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var verrs *contracts.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	require.Len(t, verrs.Errors, 1)
	assert.Equal(t, code, verrs.Errors[0].Code)
}

func TestApply_Add(t *testing.T) {
	plan, err := Apply(existing(), Mutation{Add: &NewAllocation{Name: "  Gold ", Weight: 10}})
	require.NoError(t, err)

	require.NotNil(t, plan.Added)
	assert.Equal(t, "Gold", plan.Added.Name)
	assert.Equal(t, 10.0, plan.Added.Percentage)
	assert.True(t, plan.Added.Enabled)
	assert.Len(t, plan.Result, 3)
}

func TestApply_AddBlankName(t *testing.T) {
	_, err := Apply(existing(), Mutation{Add: &NewAllocation{Name: "   ", Weight: 10}})
	requireCode(t, err, contracts.CodeBlank)
}

func TestApply_AddWeightRange(t *testing.T) {
	for _, w := range []float64{0, -5, 100.01, 250} {
		_, err := Apply(nil, Mutation{Add: &NewAllocation{Name: "Cash", Weight: w}})
		requireCode(t, err, contracts.CodeRange)
	}

	plan, err := Apply(nil, Mutation{Add: &NewAllocation{Name: "Cash", Weight: 100}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, plan.Added.Percentage)
}

func TestApply_AddDuplicateIsCaseInsensitive(t *testing.T) {
	current := existing()

	for _, name := range []string{"cash", "CASH", "bonds"} {
		_, err := Apply(current, Mutation{Add: &NewAllocation{Name: name, Weight: 5}})
		requireCode(t, err, contracts.CodeDuplicate)
	}
	assert.Equal(t, existing(), current, "input must be untouched")
}

func TestApply_AddExceedingTotalFailsIdempotently(t *testing.T) {
	current := existing()
	m := Mutation{Add: &NewAllocation{Name: "Gold", Weight: 81}}

	for i := 0; i < 3; i++ {
		plan, err := Apply(current, m)
		assert.Nil(t, plan)
		requireCode(t, err, contracts.CodeTotalExceeded)
	}
	assert.Equal(t, existing(), current)
}

func TestApply_TotalUsesDecimalArithmetic(t *testing.T) {
	current := []contracts.Allocation{
		{ID: 1, Name: "A", Percentage: 33.33, Enabled: true},
		{ID: 2, Name: "B", Percentage: 33.33, Enabled: true},
	}

	_, err := Apply(current, Mutation{Add: &NewAllocation{Name: "C", Weight: 33.34}})
	assert.NoError(t, err)
}

func TestApply_Toggle(t *testing.T) {
	plan, err := Apply(existing(), Mutation{ToggleID: id(1)})
	require.NoError(t, err)

	require.Len(t, plan.Toggled, 1)
	assert.False(t, plan.Toggled[0].Enabled)
	assert.Equal(t, 20.0, plan.Toggled[0].Percentage)
}

func TestApply_ToggleOnExceedingTotal(t *testing.T) {
	current := []contracts.Allocation{
		{ID: 1, Name: "Cash", Percentage: 80, Enabled: true},
		{ID: 2, Name: "Bonds", Percentage: 30, Enabled: false},
	}

	_, err := Apply(current, Mutation{ToggleID: id(2)})
	requireCode(t, err, contracts.CodeTotalExceeded)
}

func TestApply_ToggleMissing(t *testing.T) {
	_, err := Apply(existing(), Mutation{ToggleID: id(99)})
	requireCode(t, err, contracts.CodeNotFound)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestApply_Remove(t *testing.T) {
	plan, err := Apply(existing(), Mutation{RemoveID: id(2)})
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, plan.Removed)
	require.Len(t, plan.Result, 1)
	assert.Equal(t, "Cash", plan.Result[0].Name)
}

func TestApply_RemoveMissing(t *testing.T) {
	_, err := Apply(existing(), Mutation{RemoveID: id(42)})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestApply_RemoveFreesName(t *testing.T) {
	plan, err := Apply(existing(), Mutation{
		RemoveID: id(1),
		Add:      &NewAllocation{Name: "cash", Weight: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, "cash", plan.Added.Name)
}

func TestApply_FailureDiscardsEarlierSteps(t *testing.T) {
	plan, err := Apply(existing(), Mutation{
		ToggleID: id(1),
		Add:      &NewAllocation{Name: "", Weight: 5},
	})
	assert.Nil(t, plan)
	requireCode(t, err, contracts.CodeBlank)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(existing()))

	err := Validate([]contracts.Allocation{
		{Name: "A", Percentage: 60, Enabled: true},
		{Name: "B", Percentage: 50, Enabled: true},
	})
	requireCode(t, err, contracts.CodeTotalExceeded)
}

func TestImport(t *testing.T) {
	got, err := Import([]contracts.Allocation{
		{ID: 9, Name: " Cash ", Percentage: 12.345, Enabled: true},
		{Name: "Bonds", Percentage: 70, Enabled: false},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Cash", got[0].Name)
	assert.Zero(t, got[0].ID)
	assert.InDelta(t, 12.35, got[0].Percentage, 1e-9)
	assert.True(t, got[0].Enabled)
	assert.False(t, got[1].Enabled)

	_, err = Import([]contracts.Allocation{
		{Name: "Cash", Percentage: 10, Enabled: true},
		{Name: "CASH", Percentage: 10, Enabled: true},
	})
	requireCode(t, err, contracts.CodeDuplicate)

	_, err = Import([]contracts.Allocation{{Name: "Cash", Percentage: 0, Enabled: true}})
	requireCode(t, err, contracts.CodeRange)
}

func TestCopyFrom(t *testing.T) {
	copies := CopyFrom(existing())

	require.Len(t, copies, 2)
	for _, c := range copies {
		assert.Zero(t, c.ID)
		assert.Empty(t, c.PortfolioID)
	}
	assert.False(t, copies[1].Enabled)
}

func TestMutationEmpty(t *testing.T) {
	assert.True(t, Mutation{}.Empty())
	assert.False(t, Mutation{ToggleID: id(1)}.Empty())
}
