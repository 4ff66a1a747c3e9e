package portfolio

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/allocation"
	"github.com/wonny/folio/internal/contracts"
)

func addAllocation(t *testing.T, svc *Service, id, name string, weight float64) []contracts.Allocation {
	t.Helper()
	out, err := svc.UpdateAllocations(context.Background(), id, allocation.Mutation{
		Add: &allocation.NewAllocation{Name: name, Weight: weight},
	})
	require.NoError(t, err)
	return out
}

func TestUpdateAllocations_AddToggleRemove(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	set := addAllocation(t, svc, p.ID, "Cash", 20)
	require.Len(t, set, 1)
	cash := set[0]
	assert.NotZero(t, cash.ID)
	assert.True(t, cash.Enabled)
	assert.Equal(t, p.ID, cash.PortfolioID)

	set, err := svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{ToggleID: &cash.ID})
	require.NoError(t, err)
	assert.False(t, set[0].Enabled)
	assert.Equal(t, 20.0, set[0].Percentage)

	set, err = svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{RemoveID: &cash.ID})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestUpdateAllocations_RejectedMutationChangesNothing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	addAllocation(t, svc, p.ID, "Cash", 60)
	before, err := svc.Allocations(ctx, p.ID)
	require.NoError(t, err)

	over := allocation.Mutation{Add: &allocation.NewAllocation{Name: "Bonds", Weight: 50}}
	for i := 0; i < 2; i++ {
		_, err = svc.UpdateAllocations(ctx, p.ID, over)
		requireValidation(t, err, contracts.CodeTotalExceeded)
	}

	_, err = svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{
		Add: &allocation.NewAllocation{Name: "cash", Weight: 5},
	})
	requireValidation(t, err, contracts.CodeDuplicate)

	after, err := svc.Allocations(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateAllocations_ToggleAndAddAreAtomic(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	set := addAllocation(t, svc, p.ID, "Cash", 60)
	cash := set[0]
	_, err := svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{ToggleID: &cash.ID})
	require.NoError(t, err)

	// re-enabling Cash plus a new 50% allocation exceeds 100
	_, err = svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{
		ToggleID: &cash.ID,
		Add:      &allocation.NewAllocation{Name: "Bonds", Weight: 50},
	})
	requireValidation(t, err, contracts.CodeTotalExceeded)

	set, err = svc.Allocations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.False(t, set[0].Enabled)
}

func TestUpdateAllocations_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	missing := int64(404)
	_, err := svc.UpdateAllocations(ctx, p.ID, allocation.Mutation{RemoveID: &missing})
	requireValidation(t, err, contracts.CodeNotFound)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestUpdateAllocations_UnknownPortfolio(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.UpdateAllocations(context.Background(), uuid.NewString(), allocation.Mutation{
		Add: &allocation.NewAllocation{Name: "Cash", Weight: 10},
	})
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestUpdateAllocations_EmptyMutationReturnsSet(t *testing.T) {
	svc, _, _ := newTestService(t)
	p := createPortfolio(t, svc, "Tech", "AAPL")
	addAllocation(t, svc, p.ID, "Cash", 10)

	set, err := svc.UpdateAllocations(context.Background(), p.ID, allocation.Mutation{})
	require.NoError(t, err)
	assert.Len(t, set, 1)
}
