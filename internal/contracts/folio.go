package contracts

import (
	"sort"
	"time"
)

// Ticker is a tradable symbol with its display name
type Ticker struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Tickers is an ordered ticker list
type Tickers []Ticker

// Symbols returns the symbols in list order
func (ts Tickers) Symbols() []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Symbol)
	}
	return out
}

// Clone returns an independent copy
func (ts Tickers) Clone() Tickers {
	if ts == nil {
		return Tickers{}
	}
	out := make(Tickers, len(ts))
	copy(out, ts)
	return out
}

// Find returns the ticker with the given symbol
func (ts Tickers) Find(symbol string) (Ticker, bool) {
	for _, t := range ts {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Ticker{}, false
}

// Weights maps symbol -> fraction (0.0 ~ 1.0)
type Weights map[string]float64

// Clone returns an independent copy; a nil receiver yields an empty map
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// For returns the weight for symbol and whether it is present
func (w Weights) For(symbol string) (float64, bool) {
	v, ok := w[symbol]
	return v, ok
}

// Symbols returns the symbols sorted by weight, descending, then by symbol
func (w Weights) Symbols() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if w[out[i]] != w[out[j]] {
			return w[out[i]] > w[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Portfolio is the aggregate root.
// Tickers and Weights are a cache of the latest version, refreshed by the
// version coordinator in the same transaction that writes the version.
type Portfolio struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tickers   Tickers   `json:"tickers"`
	Weights   Weights   `json:"weights"`
	CopyOfID  *string   `json:"copy_of_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Persisted reports whether the portfolio has an identity
func (p *Portfolio) Persisted() bool {
	return p != nil && p.ID != ""
}

// Version is an immutable, sequentially numbered snapshot of a portfolio
type Version struct {
	PortfolioID   string    `json:"portfolio_id"`
	VersionNumber int       `json:"version_number"`
	Tickers       Tickers   `json:"tickers"`
	Weights       Weights   `json:"weights"`
	CapPercentage *float64  `json:"cap_percentage,omitempty"`
	TopN          *int      `json:"top_n,omitempty"`
	Title         string    `json:"title,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TickerSymbols returns the snapshot's symbols in order
func (v *Version) TickerSymbols() []string {
	return v.Tickers.Symbols()
}

// WeightFor returns the snapshot weight of symbol
func (v *Version) WeightFor(symbol string) (float64, bool) {
	return v.Weights.For(symbol)
}

// HasCapProvenance reports whether the version was produced by cap-and-redistribute
func (v *Version) HasCapProvenance() bool {
	return v.CapPercentage != nil && v.TopN != nil
}

// Clone returns a deep copy
func (v *Version) Clone() *Version {
	out := *v
	out.Tickers = v.Tickers.Clone()
	out.Weights = v.Weights.Clone()
	if v.CapPercentage != nil {
		c := *v.CapPercentage
		out.CapPercentage = &c
	}
	if v.TopN != nil {
		n := *v.TopN
		out.TopN = &n
	}
	return &out
}

// Allocation is a named non-ticker holding (cash, bonds) that scales ticker weights down
type Allocation struct {
	ID          int64     `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	Name        string    `json:"name"`
	Percentage  float64   `json:"percentage"` // 0 < p <= 100
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fraction returns the percentage as a fraction of 1
func (a Allocation) Fraction() float64 {
	return a.Percentage / 100.0
}

// CapOption is a cap-and-redistribute parameter pair with cached weights.
// At most one option per portfolio is Active.
type CapOption struct {
	ID            int64     `json:"id"`
	PortfolioID   string    `json:"portfolio_id"`
	CapPercentage float64   `json:"cap_percentage"` // fraction, 0 < c <= 1
	TopN          int       `json:"top_n"`
	Active        bool      `json:"active"`
	Weights       Weights   `json:"weights"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasWeights reports whether engine weights are cached on the option
func (o *CapOption) HasWeights() bool {
	return len(o.Weights) > 0
}

// WeightFor returns the cached weight of symbol
func (o *CapOption) WeightFor(symbol string) (float64, bool) {
	return o.Weights.For(symbol)
}

// Matches reports whether the option carries the given parameters
func (o *CapOption) Matches(capFraction float64, topN int) bool {
	const eps = 1e-9
	d := o.CapPercentage - capFraction
	return o.TopN == topN && d < eps && d > -eps
}

// PortfolioView is the effective state of a portfolio for display
type PortfolioView struct {
	Portfolio *Portfolio `json:"portfolio"`
	// Version is the snapshot being viewed; nil before the first version exists
	Version *Version `json:"version,omitempty"`
	// Current is false when an older version was requested explicitly
	Current      bool         `json:"current"`
	ActiveOption *CapOption   `json:"active_option,omitempty"`
	Tickers      Tickers      `json:"tickers"`
	BaseWeights  Weights      `json:"base_weights"`
	Allocations  []Allocation `json:"allocations"`
	CapOptions   []CapOption  `json:"cap_options"`
	Adjusted     Weights      `json:"adjusted_weights"`
	// AllocatedFraction is the enabled allocation total, unclamped
	AllocatedFraction float64 `json:"allocated_fraction"`
}
