package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/folio/internal/contracts"
)

// MemoryStore is an in-process Store.
// Each portfolio has its own mutex; a transaction works on a cloned record
// that replaces the stored one only when fn succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	locks   map[string]*sync.Mutex

	nextAllocationID int64
	nextOptionID     int64

	now func() time.Time
}

type memRecord struct {
	portfolio   contracts.Portfolio
	versions    []contracts.Version // ascending version number
	allocations []contracts.Allocation
	options     []contracts.CapOption
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memRecord),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (r *memRecord) clone() *memRecord {
	out := &memRecord{portfolio: clonePortfolio(&r.portfolio)}

	out.versions = make([]contracts.Version, len(r.versions))
	for i := range r.versions {
		out.versions[i] = *r.versions[i].Clone()
	}

	out.allocations = make([]contracts.Allocation, len(r.allocations))
	copy(out.allocations, r.allocations)

	out.options = make([]contracts.CapOption, len(r.options))
	for i, o := range r.options {
		o.Weights = o.Weights.Clone()
		out.options[i] = o
	}
	return out
}

func clonePortfolio(p *contracts.Portfolio) contracts.Portfolio {
	out := *p
	out.Tickers = p.Tickers.Clone()
	out.Weights = p.Weights.Clone()
	if p.CopyOfID != nil {
		id := *p.CopyOfID
		out.CopyOfID = &id
	}
	return out
}

// lockFor returns the mutex of one portfolio, creating it on first use
func (s *MemoryStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) record(id string) (*memRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// CreatePortfolio inserts p and runs fn on the new record before publishing it
func (s *MemoryStore) CreatePortfolio(ctx context.Context, p *contracts.Portfolio, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lockFor(p.ID)
	l.Lock()
	defer l.Unlock()

	if _, exists := s.record(p.ID); exists {
		return fmt.Errorf("failed to insert portfolio: %w (duplicate id)", ErrIntegrity)
	}

	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now

	rec := &memRecord{portfolio: clonePortfolio(p)}
	if fn != nil {
		tx := &memTx{store: s, rec: rec}
		if err := fn(tx); err != nil {
			return err
		}
		*p = clonePortfolio(&rec.portfolio)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CopyOfID != nil {
		if _, ok := s.records[*p.CopyOfID]; !ok {
			rec.portfolio.CopyOfID = nil
			p.CopyOfID = nil
		}
	}
	s.records[p.ID] = rec
	return nil
}

// GetPortfolio retrieves one portfolio
func (s *MemoryStore) GetPortfolio(ctx context.Context, id string) (*contracts.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	p := clonePortfolio(&r.portfolio)
	return &p, nil
}

// ListPortfolios returns all portfolios, newest first
func (s *MemoryStore) ListPortfolios(ctx context.Context) ([]contracts.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Portfolio, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clonePortfolio(&r.portfolio))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// DeletePortfolio removes the record and clears copy references to it
func (s *MemoryStore) DeletePortfolio(ctx context.Context, id string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrPortfolioNotFound
	}
	delete(s.records, id)
	delete(s.locks, id)

	for _, r := range s.records {
		if r.portfolio.CopyOfID != nil && *r.portfolio.CopyOfID == id {
			r.portfolio.CopyOfID = nil
		}
	}
	return nil
}

// ListVersions returns versions by descending number
func (s *MemoryStore) ListVersions(ctx context.Context, id string) ([]contracts.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Version, 0)
	r, ok := s.records[id]
	if !ok {
		return out, nil
	}
	for i := len(r.versions) - 1; i >= 0; i-- {
		out = append(out, *r.versions[i].Clone())
	}
	return out, nil
}

// GetVersion returns nil, nil when the number does not exist
func (s *MemoryStore) GetVersion(ctx context.Context, id string, number int) (*contracts.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	for i := range r.versions {
		if r.versions[i].VersionNumber == number {
			return r.versions[i].Clone(), nil
		}
	}
	return nil, nil
}

// LatestVersion returns the highest-numbered version
func (s *MemoryStore) LatestVersion(ctx context.Context, id string) (*contracts.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return r.latest(), nil
}

// BaseVersion returns the lowest-numbered version
func (s *MemoryStore) BaseVersion(ctx context.Context, id string) (*contracts.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return r.base(), nil
}

// ListAllocations returns allocations in creation order
func (s *MemoryStore) ListAllocations(ctx context.Context, id string) ([]contracts.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Allocation, 0)
	if r, ok := s.records[id]; ok {
		out = append(out, r.allocations...)
	}
	return out, nil
}

// ListCapOptions returns cap options in creation order
func (s *MemoryStore) ListCapOptions(ctx context.Context, id string) ([]contracts.CapOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.CapOption, 0)
	if r, ok := s.records[id]; ok {
		for _, o := range r.options {
			o.Weights = o.Weights.Clone()
			out = append(out, o)
		}
	}
	return out, nil
}

// WithPortfolioLock serializes fn against every other writer of id
func (s *MemoryStore) WithPortfolioLock(ctx context.Context, id string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	current, ok := s.record(id)
	if !ok {
		return ErrPortfolioNotFound
	}

	s.mu.RLock()
	working := current.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{store: s, rec: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return ErrPortfolioNotFound
	}
	// copy references are cleared by deletes of other portfolios, which do
	// not hold this portfolio's lock
	working.portfolio.CopyOfID = stored.portfolio.CopyOfID
	s.records[id] = working
	return nil
}

func (r *memRecord) latest() *contracts.Version {
	if len(r.versions) == 0 {
		return nil
	}
	return r.versions[len(r.versions)-1].Clone()
}

func (r *memRecord) base() *contracts.Version {
	if len(r.versions) == 0 {
		return nil
	}
	return r.versions[0].Clone()
}

// memTx mutates a private record clone
type memTx struct {
	store *MemoryStore
	rec   *memRecord
}

func (t *memTx) Portfolio() *contracts.Portfolio {
	return &t.rec.portfolio
}

func (t *memTx) MaxVersionNumber(ctx context.Context) (int, error) {
	n := 0
	for _, v := range t.rec.versions {
		if v.VersionNumber > n {
			n = v.VersionNumber
		}
	}
	return n, nil
}

func (t *memTx) LatestVersion(ctx context.Context) (*contracts.Version, error) {
	return t.rec.latest(), nil
}

func (t *memTx) InsertVersion(ctx context.Context, v *contracts.Version) error {
	for _, existing := range t.rec.versions {
		if existing.VersionNumber == v.VersionNumber {
			return fmt.Errorf("failed to insert version: %w (version %d exists)", ErrIntegrity, v.VersionNumber)
		}
	}

	v.PortfolioID = t.rec.portfolio.ID
	v.CreatedAt = t.store.now()
	t.rec.versions = append(t.rec.versions, *v.Clone())
	sort.Slice(t.rec.versions, func(i, j int) bool {
		return t.rec.versions[i].VersionNumber < t.rec.versions[j].VersionNumber
	})
	return nil
}

func (t *memTx) UpdateVersion(ctx context.Context, v *contracts.Version) error {
	for i := range t.rec.versions {
		if t.rec.versions[i].VersionNumber != v.VersionNumber {
			continue
		}
		updated := v.Clone()
		updated.PortfolioID = t.rec.portfolio.ID
		updated.CreatedAt = t.rec.versions[i].CreatedAt
		t.rec.versions[i] = *updated
		return nil
	}
	return fmt.Errorf("failed to update version %d: %w", v.VersionNumber, contracts.ErrNotFound)
}

func (t *memTx) UpdateCurrentState(ctx context.Context, tickers contracts.Tickers, weights contracts.Weights) error {
	t.rec.portfolio.Tickers = tickers.Clone()
	t.rec.portfolio.Weights = weights.Clone()
	t.rec.portfolio.UpdatedAt = t.store.now()
	return nil
}

func (t *memTx) Allocations(ctx context.Context) ([]contracts.Allocation, error) {
	out := make([]contracts.Allocation, len(t.rec.allocations))
	copy(out, t.rec.allocations)
	return out, nil
}

func (t *memTx) InsertAllocation(ctx context.Context, a *contracts.Allocation) error {
	for _, existing := range t.rec.allocations {
		if existing.Name == a.Name {
			return fmt.Errorf("failed to insert allocation: %w (name %q exists)", ErrIntegrity, a.Name)
		}
	}

	t.store.mu.Lock()
	t.store.nextAllocationID++
	a.ID = t.store.nextAllocationID
	t.store.mu.Unlock()

	now := t.store.now()
	a.PortfolioID = t.rec.portfolio.ID
	a.CreatedAt, a.UpdatedAt = now, now
	t.rec.allocations = append(t.rec.allocations, *a)
	return nil
}

func (t *memTx) SetAllocationEnabled(ctx context.Context, id int64, enabled bool) error {
	for i := range t.rec.allocations {
		if t.rec.allocations[i].ID == id {
			t.rec.allocations[i].Enabled = enabled
			t.rec.allocations[i].UpdatedAt = t.store.now()
			return nil
		}
	}
	return fmt.Errorf("allocation: %w", contracts.ErrNotFound)
}

func (t *memTx) DeleteAllocation(ctx context.Context, id int64) error {
	for i := range t.rec.allocations {
		if t.rec.allocations[i].ID == id {
			t.rec.allocations = append(t.rec.allocations[:i], t.rec.allocations[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("allocation: %w", contracts.ErrNotFound)
}

func (t *memTx) CapOptions(ctx context.Context) ([]contracts.CapOption, error) {
	out := make([]contracts.CapOption, 0, len(t.rec.options))
	for _, o := range t.rec.options {
		o.Weights = o.Weights.Clone()
		out = append(out, o)
	}
	return out, nil
}

func (t *memTx) InsertCapOption(ctx context.Context, o *contracts.CapOption) error {
	t.store.mu.Lock()
	t.store.nextOptionID++
	o.ID = t.store.nextOptionID
	t.store.mu.Unlock()

	now := t.store.now()
	o.PortfolioID = t.rec.portfolio.ID
	o.CreatedAt, o.UpdatedAt = now, now
	o.Weights = o.Weights.Clone()
	t.rec.options = append(t.rec.options, *o)
	return nil
}

func (t *memTx) option(id int64) *contracts.CapOption {
	for i := range t.rec.options {
		if t.rec.options[i].ID == id {
			return &t.rec.options[i]
		}
	}
	return nil
}

func (t *memTx) SetCapOptionActive(ctx context.Context, id int64, active bool) error {
	o := t.option(id)
	if o == nil {
		return fmt.Errorf("cap option: %w", contracts.ErrNotFound)
	}
	o.Active = active
	o.UpdatedAt = t.store.now()
	return nil
}

func (t *memTx) DeactivateCapOptions(ctx context.Context, exceptID int64) error {
	now := t.store.now()
	for i := range t.rec.options {
		if t.rec.options[i].ID != exceptID && t.rec.options[i].Active {
			t.rec.options[i].Active = false
			t.rec.options[i].UpdatedAt = now
		}
	}
	return nil
}

func (t *memTx) SetCapOptionWeights(ctx context.Context, id int64, weights contracts.Weights) error {
	o := t.option(id)
	if o == nil {
		return fmt.Errorf("cap option: %w", contracts.ErrNotFound)
	}
	o.Weights = weights.Clone()
	o.UpdatedAt = t.store.now()
	return nil
}

func (t *memTx) DeleteCapOption(ctx context.Context, id int64) error {
	for i := range t.rec.options {
		if t.rec.options[i].ID == id {
			t.rec.options = append(t.rec.options[:i], t.rec.options[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cap option: %w", contracts.ErrNotFound)
}
