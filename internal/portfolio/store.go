package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/folio/internal/contracts"
)

var (
	// ErrPortfolioNotFound is returned when a portfolio id has no row
	ErrPortfolioNotFound = fmt.Errorf("portfolio %w", contracts.ErrNotFound)

	// ErrIntegrity marks a storage constraint violation that correct locking
	// makes impossible. It is never retried.
	ErrIntegrity = errors.New("integrity violation")
)

// Store persists portfolios and everything they own.
// ⭐ SSOT: every write to a portfolio's versions, allocations and cap options
// goes through WithPortfolioLock (or CreatePortfolio for a new row).
type Store interface {
	// CreatePortfolio inserts p and runs fn inside the same transaction,
	// holding the new row's lock. A nil fn only inserts.
	CreatePortfolio(ctx context.Context, p *contracts.Portfolio, fn func(tx Tx) error) error
	GetPortfolio(ctx context.Context, id string) (*contracts.Portfolio, error)
	ListPortfolios(ctx context.Context) ([]contracts.Portfolio, error)
	// DeletePortfolio removes the portfolio with its versions, allocations and
	// cap options. Copies keep existing with their copy reference cleared.
	DeletePortfolio(ctx context.Context, id string) error

	// ListVersions returns versions by descending version number
	ListVersions(ctx context.Context, id string) ([]contracts.Version, error)
	// GetVersion returns nil, nil when no such version exists
	GetVersion(ctx context.Context, id string, number int) (*contracts.Version, error)
	LatestVersion(ctx context.Context, id string) (*contracts.Version, error)
	BaseVersion(ctx context.Context, id string) (*contracts.Version, error)

	ListAllocations(ctx context.Context, id string) ([]contracts.Allocation, error)
	ListCapOptions(ctx context.Context, id string) ([]contracts.CapOption, error)

	// WithPortfolioLock runs fn while holding an exclusive lock on one
	// portfolio. fn's writes commit when it returns nil and are discarded
	// otherwise. A missing portfolio yields ErrPortfolioNotFound.
	WithPortfolioLock(ctx context.Context, id string, fn func(tx Tx) error) error
}

// Tx is the write surface of one locked portfolio
type Tx interface {
	// Portfolio is the locked row as read at lock time
	Portfolio() *contracts.Portfolio

	MaxVersionNumber(ctx context.Context) (int, error)
	LatestVersion(ctx context.Context) (*contracts.Version, error)
	// InsertVersion fills v.CreatedAt
	InsertVersion(ctx context.Context, v *contracts.Version) error
	// UpdateVersion rewrites the snapshot of v.VersionNumber in place
	UpdateVersion(ctx context.Context, v *contracts.Version) error
	// UpdateCurrentState refreshes the denormalized tickers/weights cache
	UpdateCurrentState(ctx context.Context, tickers contracts.Tickers, weights contracts.Weights) error

	Allocations(ctx context.Context) ([]contracts.Allocation, error)
	// InsertAllocation fills a.ID and timestamps
	InsertAllocation(ctx context.Context, a *contracts.Allocation) error
	SetAllocationEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteAllocation(ctx context.Context, id int64) error

	CapOptions(ctx context.Context) ([]contracts.CapOption, error)
	// InsertCapOption fills o.ID and timestamps
	InsertCapOption(ctx context.Context, o *contracts.CapOption) error
	SetCapOptionActive(ctx context.Context, id int64, active bool) error
	// DeactivateCapOptions turns off every option except exceptID (0 = all)
	DeactivateCapOptions(ctx context.Context, exceptID int64) error
	SetCapOptionWeights(ctx context.Context, id int64, weights contracts.Weights) error
	DeleteCapOption(ctx context.Context, id int64) error
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, contracts.ErrNotFound)
}
