package portfolio

import (
	"context"

	"github.com/wonny/folio/internal/allocation"
	"github.com/wonny/folio/internal/contracts"
)

// Allocations returns the portfolio's allocation set
func (s *Service) Allocations(ctx context.Context, portfolioID string) ([]contracts.Allocation, error) {
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.store.ListAllocations(ctx, portfolioID)
}

// UpdateAllocations validates and persists one allocation mutation.
// Validation failures come back as *contracts.ValidationErrors and leave the
// set untouched.
func (s *Service) UpdateAllocations(ctx context.Context, portfolioID string, m allocation.Mutation) ([]contracts.Allocation, error) {
	if m.Empty() {
		return s.Allocations(ctx, portfolioID)
	}

	var result []contracts.Allocation
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		current, err := tx.Allocations(ctx)
		if err != nil {
			return err
		}

		plan, err := allocation.Apply(current, m)
		if err != nil {
			return err
		}

		for _, a := range plan.Toggled {
			if err := tx.SetAllocationEnabled(ctx, a.ID, a.Enabled); err != nil {
				return err
			}
		}
		for _, id := range plan.Removed {
			if err := tx.DeleteAllocation(ctx, id); err != nil {
				return err
			}
		}
		if plan.Added != nil {
			if err := tx.InsertAllocation(ctx, plan.Added); err != nil {
				return err
			}
		}

		result, err = tx.Allocations(ctx)
		return err
	})
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Warn("allocation update rejected")
		return nil, err
	}

	s.logger.WithPortfolio(portfolioID).WithField("allocations", len(result)).Info("allocations updated")
	return result, nil
}
