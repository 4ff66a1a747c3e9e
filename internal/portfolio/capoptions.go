package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/internal/weights"
)

// NewCapOption is an add request. CapPercentage is a percentage (0, 100].
type NewCapOption struct {
	CapPercentage float64 `json:"cap_percentage"`
	TopN          int     `json:"top_n"`
}

// CapMutation is one cap-option change request.
// Steps run toggle, remove, clear, add; any failure discards all of them.
type CapMutation struct {
	ToggleID *int64        `json:"toggle,omitempty"`
	RemoveID *int64        `json:"remove,omitempty"`
	Clear    bool          `json:"clear,omitempty"`
	Add      *NewCapOption `json:"add,omitempty"`
}

// CapApply records a cap-and-redistribute run in the version history
type CapApply struct {
	CapPercentage float64 `json:"cap_percentage"` // percentage (0, 100]
	TopN          int     `json:"top_n"`
	Title         string  `json:"title"`
	Notes         string  `json:"notes"`
}

// CapOptions returns the portfolio's cap options
func (s *Service) CapOptions(ctx context.Context, portfolioID string) ([]contracts.CapOption, error) {
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.store.ListCapOptions(ctx, portfolioID)
}

// UpdateCapOptions applies m under the portfolio lock. Weights for a newly
// active option are computed inside the transaction; an engine failure rolls
// back the whole request.
func (s *Service) UpdateCapOptions(ctx context.Context, portfolioID string, m CapMutation) ([]contracts.CapOption, error) {
	var result []contracts.CapOption
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		errs := &contracts.ValidationErrors{}

		if m.ToggleID != nil {
			if err := s.toggleCapOption(ctx, tx, *m.ToggleID, errs); err != nil {
				return err
			}
		}

		if m.RemoveID != nil {
			if err := tx.DeleteCapOption(ctx, *m.RemoveID); err != nil {
				if !isNotFound(err) {
					return err
				}
				errs.Add("cap_options", contracts.CodeNotFound, "Option not found")
			}
		}

		if m.Clear {
			if err := tx.DeactivateCapOptions(ctx, 0); err != nil {
				return err
			}
		}

		if m.Add != nil {
			if err := s.addCapOption(ctx, tx, *m.Add, errs); err != nil {
				return err
			}
		}

		if err := errs.Err(); err != nil {
			return err
		}

		var err error
		result, err = tx.CapOptions(ctx)
		return err
	})
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Warn("cap option update rolled back")
		return nil, err
	}

	s.logger.WithPortfolio(portfolioID).Info("cap options updated")
	return result, nil
}

// Activate makes optionID the portfolio's single active option. An option
// without cached weights gets them computed under the lock; an engine
// failure leaves the previous activation untouched.
func (s *Service) Activate(ctx context.Context, portfolioID string, optionID int64) error {
	err := s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		opt, err := findOption(ctx, tx, optionID)
		if err != nil {
			return err
		}
		if err := activate(ctx, tx, optionID); err != nil {
			return err
		}
		if opt.HasWeights() {
			return nil
		}
		return s.storeOptionWeights(ctx, tx, opt)
	})
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Warn("cap option activation rolled back")
		return err
	}

	s.logger.WithPortfolio(portfolioID).WithField("option_id", optionID).Info("cap option activated")
	return nil
}

// ApplyCapAndRedistribute computes capped weights for the latest version's
// tickers, caches them on the matching option (created when missing),
// activates it and records the weights as a new version. The lock is held
// across the engine call so the option and the version commit together.
func (s *Service) ApplyCapAndRedistribute(ctx context.Context, portfolioID string, req CapApply) (*contracts.Version, error) {
	capFraction, err := capFractionOf(req.CapPercentage, req.TopN)
	if err != nil {
		return nil, err
	}
	topN := req.TopN

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Cap %s%% on top %d", decimal.NewFromFloat(capFraction*100).StringFixed(2), topN)
	}

	var created *contracts.Version
	err = s.store.WithPortfolioLock(ctx, portfolioID, func(tx Tx) error {
		tickers, err := capSourceTickers(ctx, tx)
		if err != nil {
			return err
		}
		if len(tickers) == 0 {
			return contracts.Invalid("tickers", contracts.CodeRequired, "Portfolio has no tickers to redistribute")
		}

		w, err := s.engine.CalculateWeights(ctx, tickers.Symbols(), &capFraction, &topN)
		if err != nil {
			return fmt.Errorf("failed to calculate weights: %w", err)
		}
		s.checkWeightSum(tx.Portfolio().ID, w)

		opt, err := findOrCreateOption(ctx, tx, capFraction, topN)
		if err != nil {
			return err
		}
		if err := activate(ctx, tx, opt.ID); err != nil {
			return err
		}
		if err := tx.SetCapOptionWeights(ctx, opt.ID, w); err != nil {
			return err
		}

		created, err = createVersion(ctx, tx, NewVersion{
			Tickers:       tickers,
			Weights:       w,
			CapPercentage: &capFraction,
			TopN:          &topN,
			Title:         title,
			Notes:         req.Notes,
		})
		return err
	})
	if err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Error("cap and redistribute rolled back")
		return nil, err
	}

	s.logger.WithPortfolio(portfolioID).WithFields(map[string]interface{}{
		"version": created.VersionNumber,
		"cap":     capFraction,
		"top_n":   topN,
	}).Info("cap and redistribute applied")
	return created, nil
}

func (s *Service) toggleCapOption(ctx context.Context, tx Tx, id int64, errs *contracts.ValidationErrors) error {
	opt, err := findOption(ctx, tx, id)
	if isNotFound(err) {
		errs.Add("cap_options", contracts.CodeNotFound, "Option not found")
		return nil
	}
	if err != nil {
		return err
	}

	if opt.Active {
		return tx.SetCapOptionActive(ctx, id, false)
	}

	if err := activate(ctx, tx, id); err != nil {
		return err
	}
	if opt.HasWeights() {
		return nil
	}
	return s.storeOptionWeights(ctx, tx, opt)
}

func (s *Service) addCapOption(ctx context.Context, tx Tx, req NewCapOption, errs *contracts.ValidationErrors) error {
	capFraction, err := capFractionOf(req.CapPercentage, req.TopN)
	if err != nil {
		var verrs *contracts.ValidationErrors
		if errors.As(err, &verrs) {
			errs.Errors = append(errs.Errors, verrs.Errors...)
			return nil
		}
		return err
	}

	existing, err := tx.CapOptions(ctx)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].Matches(capFraction, req.TopN) {
			errs.Add("cap_options", contracts.CodeDuplicate, "An option with these settings already exists")
			return nil
		}
	}

	opt := &contracts.CapOption{CapPercentage: capFraction, TopN: req.TopN}
	if err := tx.InsertCapOption(ctx, opt); err != nil {
		return err
	}
	if err := activate(ctx, tx, opt.ID); err != nil {
		return err
	}
	return s.storeOptionWeights(ctx, tx, opt)
}

// storeOptionWeights computes and caches the option's weights. Without any
// tickers there is nothing to compute and the option stays empty.
func (s *Service) storeOptionWeights(ctx context.Context, tx Tx, opt *contracts.CapOption) error {
	tickers, err := capSourceTickers(ctx, tx)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		return nil
	}

	capFraction, topN := opt.CapPercentage, opt.TopN
	w, err := s.engine.CalculateWeights(ctx, tickers.Symbols(), &capFraction, &topN)
	if err != nil {
		return fmt.Errorf("failed to calculate weights for cap option %d: %w", opt.ID, err)
	}
	s.checkWeightSum(tx.Portfolio().ID, w)

	if err := tx.SetCapOptionWeights(ctx, opt.ID, w); err != nil {
		return err
	}
	opt.Weights = w
	return nil
}

// checkWeightSum only warns; the engine owns the weights
func (s *Service) checkWeightSum(portfolioID string, w contracts.Weights) {
	if err := weights.ValidateSum(w, s.weightTolerance); err != nil {
		s.logger.WithPortfolio(portfolioID).WithError(err).Warn("engine weights do not sum to 1")
	}
}

// activate turns every sibling off, then id on
func activate(ctx context.Context, tx Tx, id int64) error {
	if err := tx.DeactivateCapOptions(ctx, id); err != nil {
		return err
	}
	return tx.SetCapOptionActive(ctx, id, true)
}

func findOption(ctx context.Context, tx Tx, id int64) (*contracts.CapOption, error) {
	opts, err := tx.CapOptions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range opts {
		if opts[i].ID == id {
			return &opts[i], nil
		}
	}
	return nil, contracts.Invalid("cap_options", contracts.CodeNotFound, "Option not found")
}

func findOrCreateOption(ctx context.Context, tx Tx, capFraction float64, topN int) (*contracts.CapOption, error) {
	opts, err := tx.CapOptions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range opts {
		if opts[i].Matches(capFraction, topN) {
			return &opts[i], nil
		}
	}

	opt := &contracts.CapOption{CapPercentage: capFraction, TopN: topN}
	if err := tx.InsertCapOption(ctx, opt); err != nil {
		return nil, err
	}
	return opt, nil
}

// capSourceTickers reads tickers from the latest version. The engine only
// sees tickers, so repeated cap runs never compound. A portfolio without
// versions falls back to its own tickers.
func capSourceTickers(ctx context.Context, tx Tx) (contracts.Tickers, error) {
	latest, err := tx.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil && len(latest.Tickers) > 0 {
		return latest.Tickers.Clone(), nil
	}
	return tx.Portfolio().Tickers.Clone(), nil
}

// capFractionOf converts a percentage to the stored fraction (3 decimals)
func capFractionOf(pct float64, topN int) (float64, error) {
	errs := &contracts.ValidationErrors{}

	fraction := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)).Round(3)
	if pct <= 0 || pct > 100 || !fraction.IsPositive() {
		errs.Add("cap_percentage", contracts.CodeRange, "Cap percentage must be between 0 and 100")
	}
	if topN <= 0 {
		errs.Add("top_n", contracts.CodeRange, "Top N must be greater than 0")
	}
	if err := errs.Err(); err != nil {
		return 0, err
	}
	return fraction.InexactFloat64(), nil
}
