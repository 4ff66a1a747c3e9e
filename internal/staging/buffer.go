// Package staging keeps the tickers a user is still editing, before they are
// committed to a portfolio version.
package staging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/redis"
)

// Edit modes
const (
	ModeNew  = "new"
	ModeEdit = "edit"
)

// Key addresses one pending edit
type Key struct {
	Session     string
	Mode        string
	PortfolioID string // empty while a new portfolio is assembled
}

func (k Key) String() string {
	return redis.StagingKey(k.Session, k.Mode, k.PortfolioID)
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Session) == "" {
		return contracts.Invalid("session", contracts.CodeRequired, "Session is required")
	}
	if strings.TrimSpace(k.Mode) == "" {
		return contracts.Invalid("mode", contracts.CodeRequired, "Mode is required")
	}
	return nil
}

// Buffer stores pending ticker lists in Redis with a TTL. When Redis is
// disabled an in-process map with the same TTL takes its place.
type Buffer struct {
	cache *redis.Cache
	ttl   time.Duration

	mu    sync.Mutex
	local map[string]entry
	now   func() time.Time
}

type entry struct {
	tickers contracts.Tickers
	expires time.Time
}

// NewBuffer creates a staging buffer
func NewBuffer(cache *redis.Cache, ttl time.Duration) *Buffer {
	if ttl <= 0 {
		ttl = redis.TTLMedium
	}
	return &Buffer{
		cache: cache,
		ttl:   ttl,
		local: make(map[string]entry),
		now:   time.Now,
	}
}

// Get returns the pending tickers; an unknown key yields an empty list
func (b *Buffer) Get(ctx context.Context, key Key) (contracts.Tickers, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(ctx, key.String())
}

// Put replaces the pending tickers
func (b *Buffer) Put(ctx context.Context, key Key, tickers contracts.Tickers) error {
	if err := key.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set(ctx, key.String(), tickers)
}

// Add appends t unless its symbol is already pending
func (b *Buffer) Add(ctx context.Context, key Key, t contracts.Ticker) (contracts.Tickers, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	t.Symbol = strings.TrimSpace(t.Symbol)
	if t.Symbol == "" {
		return nil, contracts.Invalid("symbol", contracts.CodeBlank, "Ticker symbol cannot be blank")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.get(ctx, key.String())
	if err != nil {
		return nil, err
	}
	if _, ok := current.Find(t.Symbol); ok {
		return current, nil
	}

	current = append(current, t)
	if err := b.set(ctx, key.String(), current); err != nil {
		return nil, err
	}
	return current, nil
}

// Remove drops symbol from the pending list
func (b *Buffer) Remove(ctx context.Context, key Key, symbol string) (contracts.Tickers, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.get(ctx, key.String())
	if err != nil {
		return nil, err
	}

	out := make(contracts.Tickers, 0, len(current))
	for _, t := range current {
		if t.Symbol != symbol {
			out = append(out, t)
		}
	}
	if err := b.set(ctx, key.String(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear forgets the pending edit
func (b *Buffer) Clear(ctx context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache.Enabled() {
		if err := b.cache.Delete(ctx, key.String()); err != nil {
			return fmt.Errorf("failed to clear staging buffer: %w", err)
		}
		return nil
	}
	delete(b.local, key.String())
	return nil
}

func (b *Buffer) get(ctx context.Context, key string) (contracts.Tickers, error) {
	if b.cache.Enabled() {
		var out contracts.Tickers
		if _, err := b.cache.Get(ctx, key, &out); err != nil {
			return nil, fmt.Errorf("failed to read staging buffer: %w", err)
		}
		return out.Clone(), nil
	}

	e, ok := b.local[key]
	if !ok {
		return contracts.Tickers{}, nil
	}
	if b.now().After(e.expires) {
		delete(b.local, key)
		return contracts.Tickers{}, nil
	}
	return e.tickers.Clone(), nil
}

func (b *Buffer) set(ctx context.Context, key string, tickers contracts.Tickers) error {
	if b.cache.Enabled() {
		if err := b.cache.Set(ctx, key, tickers.Clone(), b.ttl); err != nil {
			return fmt.Errorf("failed to write staging buffer: %w", err)
		}
		return nil
	}

	b.local[key] = entry{tickers: tickers.Clone(), expires: b.now().Add(b.ttl)}
	return nil
}

// Sweep drops expired in-process entries and returns how many were removed.
// Redis expires its own keys, so this is a no-op when the cache is enabled.
func (b *Buffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for key, e := range b.local {
		if now.After(e.expires) {
			delete(b.local, key)
			removed++
		}
	}
	return removed
}
