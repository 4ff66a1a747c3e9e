package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/database"
)

const pgUniqueViolation = "23505"

// PostgresStore is the pgx-backed Store.
// Portfolio locks are row locks taken with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const portfolioColumns = `id, name, tickers, weights, copy_of_id, created_at, updated_at`

const versionColumns = `portfolio_id, version_number, tickers, weights, cap_percentage, top_n,
	COALESCE(title, ''), COALESCE(notes, ''), created_at`

const allocationColumns = `id, portfolio_id, name, percentage, enabled, created_at, updated_at`

const capOptionColumns = `id, portfolio_id, cap_percentage, top_n, active, weights, created_at, updated_at`

// querier is the subset shared by pgxpool.Pool and pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// validID rejects ids Postgres would refuse to cast to UUID
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CreatePortfolio inserts p and runs fn in the same transaction
func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *contracts.Portfolio, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO portfolios (id, name, tickers, weights, copy_of_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at
		`, p.ID, p.Name, p.Tickers.Clone(), p.Weights.Clone(), p.CopyOfID).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return writeError("insert portfolio", err)
		}

		if fn == nil {
			return nil
		}
		return fn(&pgTx{tx: tx, portfolio: p})
	})
}

// GetPortfolio retrieves one portfolio
func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*contracts.Portfolio, error) {
	if !validID(id) {
		return nil, ErrPortfolioNotFound
	}

	row := s.db.Pool.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
	p, err := scanPortfolio(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return p, nil
}

// ListPortfolios returns all portfolios, newest first
func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]contracts.Portfolio, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT `+portfolioColumns+` FROM portfolios ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	out := make([]contracts.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// DeletePortfolio removes a portfolio; the schema cascades owned rows
// and nulls copy_of_id on copies
func (s *PostgresStore) DeletePortfolio(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrPortfolioNotFound
	}

	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPortfolioNotFound
	}
	return nil
}

// ListVersions returns versions by descending number
func (s *PostgresStore) ListVersions(ctx context.Context, id string) ([]contracts.Version, error) {
	if !validID(id) {
		return []contracts.Version{}, nil
	}
	return queryVersions(ctx, s.db.Pool, id)
}

// GetVersion returns nil, nil when the number does not exist
func (s *PostgresStore) GetVersion(ctx context.Context, id string, number int) (*contracts.Version, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOneVersion(ctx, s.db.Pool, `WHERE portfolio_id = $1 AND version_number = $2`, id, number)
}

// LatestVersion returns the highest-numbered version
func (s *PostgresStore) LatestVersion(ctx context.Context, id string) (*contracts.Version, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOneVersion(ctx, s.db.Pool, `WHERE portfolio_id = $1 ORDER BY version_number DESC LIMIT 1`, id)
}

// BaseVersion returns the lowest-numbered version
func (s *PostgresStore) BaseVersion(ctx context.Context, id string) (*contracts.Version, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOneVersion(ctx, s.db.Pool, `WHERE portfolio_id = $1 ORDER BY version_number ASC LIMIT 1`, id)
}

// ListAllocations returns allocations in creation order
func (s *PostgresStore) ListAllocations(ctx context.Context, id string) ([]contracts.Allocation, error) {
	if !validID(id) {
		return []contracts.Allocation{}, nil
	}
	return queryAllocations(ctx, s.db.Pool, id)
}

// ListCapOptions returns cap options in creation order
func (s *PostgresStore) ListCapOptions(ctx context.Context, id string) ([]contracts.CapOption, error) {
	if !validID(id) {
		return []contracts.CapOption{}, nil
	}
	return queryCapOptions(ctx, s.db.Pool, id)
}

// WithPortfolioLock begins a transaction, locks the portfolio row and runs fn
func (s *PostgresStore) WithPortfolioLock(ctx context.Context, id string, fn func(tx Tx) error) error {
	if !validID(id) {
		return ErrPortfolioNotFound
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, id)
		p, err := scanPortfolio(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPortfolioNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock portfolio: %w", err)
		}

		return fn(&pgTx{tx: tx, portfolio: p})
	})
}

// pgTx implements Tx over one open transaction
type pgTx struct {
	tx        pgx.Tx
	portfolio *contracts.Portfolio
}

func (t *pgTx) Portfolio() *contracts.Portfolio {
	return t.portfolio
}

func (t *pgTx) MaxVersionNumber(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM portfolio_versions WHERE portfolio_id = $1`,
		t.portfolio.ID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read max version number: %w", err)
	}
	return n, nil
}

func (t *pgTx) LatestVersion(ctx context.Context) (*contracts.Version, error) {
	return queryOneVersion(ctx, t.tx, `WHERE portfolio_id = $1 ORDER BY version_number DESC LIMIT 1`, t.portfolio.ID)
}

func (t *pgTx) InsertVersion(ctx context.Context, v *contracts.Version) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO portfolio_versions (
			portfolio_id, version_number, tickers, weights, cap_percentage, top_n, title, notes
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		RETURNING created_at
	`, t.portfolio.ID, v.VersionNumber, v.Tickers.Clone(), v.Weights.Clone(),
		v.CapPercentage, v.TopN, v.Title, v.Notes,
	).Scan(&v.CreatedAt)
	if err != nil {
		return writeError("insert version", err)
	}
	v.PortfolioID = t.portfolio.ID
	return nil
}

func (t *pgTx) UpdateVersion(ctx context.Context, v *contracts.Version) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE portfolio_versions
		SET tickers = $3, weights = $4, cap_percentage = $5, top_n = $6,
			title = NULLIF($7, ''), notes = NULLIF($8, '')
		WHERE portfolio_id = $1 AND version_number = $2
	`, t.portfolio.ID, v.VersionNumber, v.Tickers.Clone(), v.Weights.Clone(),
		v.CapPercentage, v.TopN, v.Title, v.Notes,
	)
	if err != nil {
		return writeError("update version", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update version %d: %w", v.VersionNumber, contracts.ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateCurrentState(ctx context.Context, tickers contracts.Tickers, weights contracts.Weights) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE portfolios SET tickers = $2, weights = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, t.portfolio.ID, tickers.Clone(), weights.Clone()).Scan(&t.portfolio.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update portfolio state: %w", err)
	}
	t.portfolio.Tickers = tickers.Clone()
	t.portfolio.Weights = weights.Clone()
	return nil
}

func (t *pgTx) Allocations(ctx context.Context) ([]contracts.Allocation, error) {
	return queryAllocations(ctx, t.tx, t.portfolio.ID)
}

func (t *pgTx) InsertAllocation(ctx context.Context, a *contracts.Allocation) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO allocations (portfolio_id, name, percentage, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, t.portfolio.ID, a.Name, a.Percentage, a.Enabled).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return writeError("insert allocation", err)
	}
	a.PortfolioID = t.portfolio.ID
	return nil
}

func (t *pgTx) SetAllocationEnabled(ctx context.Context, id int64, enabled bool) error {
	return t.execOne(ctx, "allocation", `
		UPDATE allocations SET enabled = $3, updated_at = NOW()
		WHERE portfolio_id = $1 AND id = $2
	`, t.portfolio.ID, id, enabled)
}

func (t *pgTx) DeleteAllocation(ctx context.Context, id int64) error {
	return t.execOne(ctx, "allocation",
		`DELETE FROM allocations WHERE portfolio_id = $1 AND id = $2`, t.portfolio.ID, id)
}

func (t *pgTx) CapOptions(ctx context.Context) ([]contracts.CapOption, error) {
	return queryCapOptions(ctx, t.tx, t.portfolio.ID)
}

func (t *pgTx) InsertCapOption(ctx context.Context, o *contracts.CapOption) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cap_and_redistribute_options (portfolio_id, cap_percentage, top_n, active, weights)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, t.portfolio.ID, o.CapPercentage, o.TopN, o.Active, o.Weights.Clone()).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return writeError("insert cap option", err)
	}
	o.PortfolioID = t.portfolio.ID
	return nil
}

func (t *pgTx) SetCapOptionActive(ctx context.Context, id int64, active bool) error {
	return t.execOne(ctx, "cap option", `
		UPDATE cap_and_redistribute_options SET active = $3, updated_at = NOW()
		WHERE portfolio_id = $1 AND id = $2
	`, t.portfolio.ID, id, active)
}

func (t *pgTx) DeactivateCapOptions(ctx context.Context, exceptID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE cap_and_redistribute_options SET active = FALSE, updated_at = NOW()
		WHERE portfolio_id = $1 AND id <> $2 AND active
	`, t.portfolio.ID, exceptID)
	if err != nil {
		return fmt.Errorf("failed to deactivate cap options: %w", err)
	}
	return nil
}

func (t *pgTx) SetCapOptionWeights(ctx context.Context, id int64, weights contracts.Weights) error {
	return t.execOne(ctx, "cap option", `
		UPDATE cap_and_redistribute_options SET weights = $3, updated_at = NOW()
		WHERE portfolio_id = $1 AND id = $2
	`, t.portfolio.ID, id, weights.Clone())
}

func (t *pgTx) DeleteCapOption(ctx context.Context, id int64) error {
	return t.execOne(ctx, "cap option",
		`DELETE FROM cap_and_redistribute_options WHERE portfolio_id = $1 AND id = $2`, t.portfolio.ID, id)
}

// execOne runs a statement that must touch exactly one owned row
func (t *pgTx) execOne(ctx context.Context, what, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return writeError("write "+what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, contracts.ErrNotFound)
	}
	return nil
}

// writeError maps unique violations to ErrIntegrity
func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("failed to %s: %w (%s)", op, ErrIntegrity, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func scanPortfolio(row pgx.Row) (*contracts.Portfolio, error) {
	var p contracts.Portfolio
	err := row.Scan(&p.ID, &p.Name, &p.Tickers, &p.Weights, &p.CopyOfID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Tickers == nil {
		p.Tickers = contracts.Tickers{}
	}
	if p.Weights == nil {
		p.Weights = contracts.Weights{}
	}
	return &p, nil
}

func scanVersion(row pgx.Row) (*contracts.Version, error) {
	var v contracts.Version
	err := row.Scan(&v.PortfolioID, &v.VersionNumber, &v.Tickers, &v.Weights,
		&v.CapPercentage, &v.TopN, &v.Title, &v.Notes, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if v.Tickers == nil {
		v.Tickers = contracts.Tickers{}
	}
	if v.Weights == nil {
		v.Weights = contracts.Weights{}
	}
	return &v, nil
}

func queryOneVersion(ctx context.Context, q querier, where string, args ...any) (*contracts.Version, error) {
	row := q.QueryRow(ctx, `SELECT `+versionColumns+` FROM portfolio_versions `+where, args...)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

func queryVersions(ctx context.Context, q querier, id string) ([]contracts.Version, error) {
	rows, err := q.Query(ctx, `
		SELECT `+versionColumns+` FROM portfolio_versions
		WHERE portfolio_id = $1
		ORDER BY version_number DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	out := make([]contracts.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func queryAllocations(ctx context.Context, q querier, id string) ([]contracts.Allocation, error) {
	rows, err := q.Query(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE portfolio_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	out := make([]contracts.Allocation, 0)
	for rows.Next() {
		var a contracts.Allocation
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.Name, &a.Percentage, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func queryCapOptions(ctx context.Context, q querier, id string) ([]contracts.CapOption, error) {
	rows, err := q.Query(ctx, `
		SELECT `+capOptionColumns+` FROM cap_and_redistribute_options
		WHERE portfolio_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query cap options: %w", err)
	}
	defer rows.Close()

	out := make([]contracts.CapOption, 0)
	for rows.Next() {
		var o contracts.CapOption
		if err := rows.Scan(&o.ID, &o.PortfolioID, &o.CapPercentage, &o.TopN, &o.Active, &o.Weights, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cap option: %w", err)
		}
		if o.Weights == nil {
			o.Weights = contracts.Weights{}
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
