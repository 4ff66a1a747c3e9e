// Package weights composes base ticker weights with allocation overlays.
package weights

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/wonny/folio/internal/contracts"
)

// EnabledFraction sums the enabled allocations as a fraction of 1 (unclamped)
func EnabledFraction(allocations []contracts.Allocation) float64 {
	sum := 0.0
	for _, a := range allocations {
		if a.Enabled {
			sum += a.Fraction()
		}
	}
	return sum
}

// AdjustmentFactor is max(1 - Σ enabled fractions, 0)
func AdjustmentFactor(allocations []contracts.Allocation) float64 {
	return math.Max(1.0-EnabledFraction(allocations), 0.0)
}

// Adjusted scales every ticker weight by the adjustment factor of allocations.
// The result is always a new map, even when there is nothing to adjust.
func Adjusted(w contracts.Weights, allocations []contracts.Allocation) contracts.Weights {
	if len(allocations) == 0 {
		return w.Clone()
	}

	factor := AdjustmentFactor(allocations)
	out := make(contracts.Weights, len(w))
	for symbol, weight := range w {
		out[symbol] = weight * factor
	}
	return out
}

// Sum returns Σ weights
func Sum(w contracts.Weights) float64 {
	if len(w) == 0 {
		return 0
	}
	vals := make([]float64, 0, len(w))
	for _, v := range w {
		vals = append(vals, v)
	}
	return floats.Sum(vals)
}

// ValidateSum checks that w is non-empty, non-negative and sums to 1 within tolerance
func ValidateSum(w contracts.Weights, tolerance float64) error {
	if len(w) == 0 {
		return fmt.Errorf("weights are empty")
	}
	for symbol, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid weight %v for %s", v, symbol)
		}
	}
	if sum := Sum(w); math.Abs(sum-1.0) > tolerance {
		return fmt.Errorf("weights sum to %.6f, expected 1 ± %g", sum, tolerance)
	}
	return nil
}
