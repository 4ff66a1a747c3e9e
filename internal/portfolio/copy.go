package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wonny/folio/internal/allocation"
	"github.com/wonny/folio/internal/contracts"
)

// CopyPortfolio creates a new portfolio from the source's current tickers and
// weights, with its allocations and cap options. Copied options start
// inactive; their weights are recomputed for the copy when the engine
// answers and left empty otherwise, to be filled on activation.
func (s *Service) CopyPortfolio(ctx context.Context, sourceID, name string) (*contracts.Portfolio, error) {
	return s.CopyPortfolioWithAllocations(ctx, sourceID, name, nil)
}

// CopyPortfolioWithAllocations copies like CopyPortfolio but gives the copy
// allocs instead of the source's allocations. A nil allocs keeps the source's
// set; an empty one copies none.
func (s *Service) CopyPortfolioWithAllocations(ctx context.Context, sourceID, name string, allocs []contracts.Allocation) (*contracts.Portfolio, error) {
	source, err := s.store.GetPortfolio(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if allocs == nil {
		current, err := s.store.ListAllocations(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		allocs = allocation.CopyFrom(current)
	} else if allocs, err = allocation.Import(allocs); err != nil {
		return nil, err
	}
	if err := allocation.Validate(allocs); err != nil {
		return nil, err
	}
	options, err := s.store.ListCapOptions(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Copy of " + source.Name
	}

	copyOf := source.ID
	p := &contracts.Portfolio{
		ID:       uuid.NewString(),
		Name:     name,
		Tickers:  source.Tickers.Clone(),
		Weights:  source.Weights.Clone(),
		CopyOfID: &copyOf,
	}

	// engine calls happen before the new row exists
	copied := s.copyOptions(ctx, p, options)

	err = s.store.CreatePortfolio(ctx, p, func(tx Tx) error {
		for i := range allocs {
			if err := tx.InsertAllocation(ctx, &allocs[i]); err != nil {
				return err
			}
		}
		for i := range copied {
			if err := tx.InsertCapOption(ctx, &copied[i]); err != nil {
				return err
			}
		}
		_, err := createVersion(ctx, tx, NewVersion{
			Tickers: p.Tickers,
			Weights: p.Weights,
			Title:   initialTitle(name),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to copy portfolio: %w", err)
	}

	s.logger.WithPortfolio(p.ID).WithFields(map[string]interface{}{
		"copy_of":     source.ID,
		"allocations": len(allocs),
		"cap_options": len(copied),
	}).Info("portfolio copied")
	return p, nil
}

func (s *Service) copyOptions(ctx context.Context, p *contracts.Portfolio, options []contracts.CapOption) []contracts.CapOption {
	symbols := p.Tickers.Symbols()
	out := make([]contracts.CapOption, 0, len(options))

	for _, o := range options {
		c := contracts.CapOption{
			CapPercentage: o.CapPercentage,
			TopN:          o.TopN,
			Weights:       contracts.Weights{},
		}

		if len(symbols) > 0 {
			capFraction, topN := o.CapPercentage, o.TopN
			w, err := s.engine.CalculateWeights(ctx, symbols, &capFraction, &topN)
			if err != nil {
				s.logger.WithPortfolio(p.ID).WithError(err).Warn("copied cap option left without weights")
			} else {
				c.Weights = w
			}
		}
		out = append(out, c)
	}
	return out
}
