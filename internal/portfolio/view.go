package portfolio

import (
	"context"
	"fmt"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/internal/weights"
)

// View builds the effective state of a portfolio.
//
// With versionNumber nil (or naming the latest version) the base weights are
// the active option's cached weights when it has any, else the latest
// version's, else the portfolio's denormalized weights. An older version is
// shown with its own weights. Allocations are not versioned and always apply.
func (s *Service) View(ctx context.Context, portfolioID string, versionNumber *int) (*contracts.PortfolioView, error) {
	p, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	allocs, err := s.store.ListAllocations(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	options, err := s.store.ListCapOptions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestVersion(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	view := &contracts.PortfolioView{
		Portfolio:   p,
		Allocations: allocs,
		CapOptions:  options,
	}

	if versionNumber != nil && (latest == nil || *versionNumber != latest.VersionNumber) {
		v, err := s.store.GetVersion(ctx, portfolioID, *versionNumber)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("version %d: %w", *versionNumber, contracts.ErrNotFound)
		}
		view.Version = v
		view.Tickers = v.Tickers.Clone()
		view.BaseWeights = v.Weights.Clone()
	} else {
		view.Current = true
		view.Version = latest
		view.ActiveOption = activeOption(options)

		switch {
		case latest != nil:
			view.Tickers = latest.Tickers.Clone()
			view.BaseWeights = latest.Weights.Clone()
		default:
			view.Tickers = p.Tickers.Clone()
			view.BaseWeights = p.Weights.Clone()
		}
		if view.ActiveOption != nil && view.ActiveOption.HasWeights() {
			view.BaseWeights = view.ActiveOption.Weights.Clone()
		}
	}

	view.Adjusted = weights.Adjusted(view.BaseWeights, allocs)
	view.AllocatedFraction = weights.EnabledFraction(allocs)
	return view, nil
}

func activeOption(options []contracts.CapOption) *contracts.CapOption {
	for i := range options {
		if options[i].Active {
			o := options[i]
			o.Weights = o.Weights.Clone()
			return &o
		}
	}
	return nil
}
