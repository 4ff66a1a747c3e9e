// Package portfolio owns the portfolio aggregate: its version history,
// allocation overlay and cap-and-redistribute options.
package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/logger"
)

// DefaultName is used when a portfolio is created without a name
const DefaultName = "New Portfolio"

const defaultWeightTolerance = 0.01

// WeightEngine computes weights for a ticker list. cap and topN are nil for
// the plain calculation.
type WeightEngine interface {
	CalculateWeights(ctx context.Context, tickers []string, cap *float64, topN *int) (contracts.Weights, error)
}

// Service coordinates every portfolio read and write.
// ⭐ SSOT: version numbers are assigned here, under the portfolio lock, and
// the denormalized tickers/weights are refreshed in the same transaction.
type Service struct {
	store           Store
	engine          WeightEngine
	logger          *logger.Logger
	weightTolerance float64
}

// NewService creates a new portfolio service
func NewService(store Store, engine WeightEngine, log *logger.Logger) *Service {
	return &Service{
		store:           store,
		engine:          engine,
		logger:          log,
		weightTolerance: defaultWeightTolerance,
	}
}

// WithWeightTolerance sets how far cached weights may sum away from 1 before a warning
func (s *Service) WithWeightTolerance(tol float64) *Service {
	if tol > 0 {
		s.weightTolerance = tol
	}
	return s
}

// GetPortfolio returns one portfolio
func (s *Service) GetPortfolio(ctx context.Context, id string) (*contracts.Portfolio, error) {
	return s.store.GetPortfolio(ctx, id)
}

// ListPortfolios returns all portfolios
func (s *Service) ListPortfolios(ctx context.Context) ([]contracts.Portfolio, error) {
	return s.store.ListPortfolios(ctx)
}

// CreatePortfolio computes weights for tickers and stores the portfolio with
// its first version. Nothing is persisted when the engine fails.
func (s *Service) CreatePortfolio(ctx context.Context, name string, tickers contracts.Tickers) (*contracts.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}

	tickers, err := normalizeTickers(tickers)
	if err != nil {
		return nil, err
	}

	w, err := s.engine.CalculateWeights(ctx, tickers.Symbols(), nil, nil)
	if err != nil {
		s.logger.WithError(err).WithField("name", name).Error("weight calculation failed, portfolio not created")
		return nil, fmt.Errorf("failed to calculate weights: %w", err)
	}

	p := &contracts.Portfolio{
		ID:      uuid.NewString(),
		Name:    name,
		Tickers: tickers,
		Weights: w,
	}

	err = s.store.CreatePortfolio(ctx, p, func(tx Tx) error {
		_, err := createVersion(ctx, tx, NewVersion{
			Tickers: tickers,
			Weights: w,
			Title:   initialTitle(name),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	s.logger.WithPortfolio(p.ID).WithField("tickers", len(tickers)).Info("portfolio created")
	return p, nil
}

// DeletePortfolio removes a portfolio with everything it owns
func (s *Service) DeletePortfolio(ctx context.Context, id string) error {
	if err := s.store.DeletePortfolio(ctx, id); err != nil {
		return err
	}
	s.logger.WithPortfolio(id).Info("portfolio deleted")
	return nil
}

// normalizeTickers trims symbols, drops repeats and requires at least one
func normalizeTickers(in contracts.Tickers) (contracts.Tickers, error) {
	out := make(contracts.Tickers, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t.Symbol = strings.TrimSpace(t.Symbol)
		t.Name = strings.TrimSpace(t.Name)
		if t.Symbol == "" {
			return nil, contracts.Invalid("tickers", contracts.CodeBlank, "Ticker symbol cannot be blank")
		}
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, contracts.Invalid("tickers", contracts.CodeRequired, "At least one ticker is required")
	}
	return out, nil
}

func initialTitle(name string) string {
	return `Create "` + name + `"`
}
