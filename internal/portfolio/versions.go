package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/folio/internal/contracts"
)

// NewVersion is the payload of a version write
type NewVersion struct {
	Tickers       contracts.Tickers
	Weights       contracts.Weights
	CapPercentage *float64 // fraction; set together with TopN by cap-and-redistribute
	TopN          *int
	Title         string
	Notes         string
}

func (nv NewVersion) version(number int) *contracts.Version {
	v := &contracts.Version{
		VersionNumber: number,
		Tickers:       nv.Tickers.Clone(),
		Weights:       nv.Weights.Clone(),
		Title:         nv.Title,
		Notes:         nv.Notes,
	}
	if nv.CapPercentage != nil {
		c := *nv.CapPercentage
		v.CapPercentage = &c
	}
	if nv.TopN != nil {
		n := *nv.TopN
		v.TopN = &n
	}
	return v
}

// CommitOptions controls how CommitTickers records the change
type CommitOptions struct {
	Title string
	Notes string
	// Overwrite rewrites the latest version instead of branching a new one
	Overwrite bool
}

// CreateVersion appends the next version to the portfolio's history.
// An unpersisted portfolio (empty id or no row) is a no-op returning nil, nil.
func (s *Service) CreateVersion(ctx context.Context, portfolioID string, nv NewVersion) (*contracts.Version, error) {
	if portfolioID == "" {
		return nil, nil
	}

	var created *contracts.Version
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		v, err := createVersion(ctx, tx, nv)
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	if errors.Is(err, ErrPortfolioNotFound) {
		s.logger.WithPortfolio(portfolioID).Debug("portfolio not persisted, version skipped")
		return nil, nil
	}
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Error("version creation rolled back")
		return nil, err
	}

	s.logger.WithPortfolio(portfolioID).WithField("version", created.VersionNumber).Info("version created")
	return created, nil
}

// UpdateLatestVersion rewrites the newest version in place, keeping its number.
// Without any version it creates version 1.
func (s *Service) UpdateLatestVersion(ctx context.Context, portfolioID string, nv NewVersion) (*contracts.Version, error) {
	if portfolioID == "" {
		return nil, nil
	}

	var updated *contracts.Version
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		v, err := updateLatestVersion(ctx, tx, nv)
		if err != nil {
			return err
		}
		updated = v
		return nil
	})
	if errors.Is(err, ErrPortfolioNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Error("version update rolled back")
		return nil, err
	}

	s.logger.WithPortfolio(portfolioID).WithField("version", updated.VersionNumber).Info("latest version updated")
	return updated, nil
}

// CreateInitialVersion snapshots the portfolio's current tickers and weights
func (s *Service) CreateInitialVersion(ctx context.Context, portfolioID string) (*contracts.Version, error) {
	if portfolioID == "" {
		return nil, nil
	}

	var created *contracts.Version
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		p := tx.Portfolio()
		v, err := createVersion(ctx, tx, NewVersion{
			Tickers: p.Tickers,
			Weights: p.Weights,
			Title:   initialTitle(p.Name),
		})
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	if errors.Is(err, ErrPortfolioNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CommitTickers computes weights for tickers and records them as a version.
// The engine is called before the lock is taken; when it fails nothing changes.
func (s *Service) CommitTickers(ctx context.Context, portfolioID string, tickers contracts.Tickers, opts CommitOptions) (*contracts.Version, error) {
	tickers, err := normalizeTickers(tickers)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}

	w, err := s.engine.CalculateWeights(ctx, tickers.Symbols(), nil, nil)
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Error("weight calculation failed, no version written")
		return nil, fmt.Errorf("failed to calculate weights: %w", err)
	}

	nv := NewVersion{Tickers: tickers, Weights: w, Title: opts.Title, Notes: opts.Notes}

	var v *contracts.Version
	if opts.Overwrite {
		v, err = s.UpdateLatestVersion(ctx, portfolioID, nv)
	} else {
		v, err = s.CreateVersion(ctx, portfolioID, nv)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		// deleted between the existence check and the lock
		return nil, ErrPortfolioNotFound
	}
	return v, nil
}

// LatestVersion returns the highest-numbered version, or nil
func (s *Service) LatestVersion(ctx context.Context, portfolioID string) (*contracts.Version, error) {
	return s.store.LatestVersion(ctx, portfolioID)
}

// BaseVersion returns the lowest-numbered version, or nil
func (s *Service) BaseVersion(ctx context.Context, portfolioID string) (*contracts.Version, error) {
	return s.store.BaseVersion(ctx, portfolioID)
}

// VersionAt returns version n, or nil when it does not exist
func (s *Service) VersionAt(ctx context.Context, portfolioID string, n int) (*contracts.Version, error) {
	return s.store.GetVersion(ctx, portfolioID, n)
}

// Versions returns the history, newest first
func (s *Service) Versions(ctx context.Context, portfolioID string) ([]contracts.Version, error) {
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, portfolioID)
}

// createVersion must run under the portfolio lock
func createVersion(ctx context.Context, tx Tx, nv NewVersion) (*contracts.Version, error) {
	last, err := tx.MaxVersionNumber(ctx)
	if err != nil {
		return nil, err
	}

	v := nv.version(last + 1)
	if err := tx.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	// a cap run writes the weights of the option it just activated
	if !v.HasCapProvenance() {
		if err := invalidateCapOptions(ctx, tx, v.Tickers); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateCurrentState(ctx, v.Tickers, v.Weights); err != nil {
		return nil, err
	}
	return v, nil
}

func updateLatestVersion(ctx context.Context, tx Tx, nv NewVersion) (*contracts.Version, error) {
	latest, err := tx.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return createVersion(ctx, tx, nv)
	}

	v := nv.version(latest.VersionNumber)
	v.CreatedAt = latest.CreatedAt
	if err := tx.UpdateVersion(ctx, v); err != nil {
		return nil, err
	}
	if err := invalidateCapOptions(ctx, tx, v.Tickers); err != nil {
		return nil, err
	}
	if err := tx.UpdateCurrentState(ctx, v.Tickers, v.Weights); err != nil {
		return nil, err
	}
	v.PortfolioID = tx.Portfolio().ID
	return v, nil
}

// invalidateCapOptions runs before the current state moves to next. When the
// ticker set changes, cached option weights describe tickers the portfolio no
// longer holds: they are dropped and every option is deactivated, so the
// latest version governs until an option is activated again.
func invalidateCapOptions(ctx context.Context, tx Tx, next contracts.Tickers) error {
	if sameSymbols(tx.Portfolio().Tickers, next) {
		return nil
	}

	opts, err := tx.CapOptions(ctx)
	if err != nil {
		return err
	}
	for _, o := range opts {
		if !o.HasWeights() {
			continue
		}
		if err := tx.SetCapOptionWeights(ctx, o.ID, contracts.Weights{}); err != nil {
			return err
		}
	}
	return tx.DeactivateCapOptions(ctx, 0)
}

// sameSymbols compares symbol sets, ignoring order
func sameSymbols(a, b contracts.Tickers) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		seen[t.Symbol] = struct{}{}
	}
	for _, t := range b {
		if _, ok := seen[t.Symbol]; !ok {
			return false
		}
	}
	return true
}
