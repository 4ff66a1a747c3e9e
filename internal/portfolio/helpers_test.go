package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/logger"
)

var errEngineDown = errors.New("engine down")

type engineCall struct {
	tickers []string
	cap     *float64
	topN    *int
}

// stubEngine splits weight equally; with a cap the first symbol gets the
// cap and the rest share the remainder
type stubEngine struct {
	mu    sync.Mutex
	calls []engineCall
	err   error
}

func (e *stubEngine) CalculateWeights(ctx context.Context, tickers []string, cap *float64, topN *int) (contracts.Weights, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, engineCall{tickers: append([]string(nil), tickers...), cap: cap, topN: topN})
	if e.err != nil {
		return nil, e.err
	}
	return stubWeights(tickers, cap), nil
}

func (e *stubEngine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *stubEngine) lastCall() engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

func stubWeights(tickers []string, cap *float64) contracts.Weights {
	w := contracts.Weights{}
	if len(tickers) == 0 {
		return w
	}
	if cap == nil || len(tickers) == 1 {
		for _, t := range tickers {
			w[t] = 1.0 / float64(len(tickers))
		}
		return w
	}
	w[tickers[0]] = *cap
	for _, t := range tickers[1:] {
		w[t] = (1.0 - *cap) / float64(len(tickers)-1)
	}
	return w
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *stubEngine) {
	t.Helper()
	store := NewMemoryStore()
	engine := &stubEngine{}
	return NewService(store, engine, logger.Nop()), store, engine
}

func tickers(symbols ...string) contracts.Tickers {
	out := make(contracts.Tickers, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, contracts.Ticker{Symbol: s, Name: s + " Inc."})
	}
	return out
}

func createPortfolio(t *testing.T, svc *Service, name string, symbols ...string) *contracts.Portfolio {
	t.Helper()
	p, err := svc.CreatePortfolio(context.Background(), name, tickers(symbols...))
	require.NoError(t, err)
	return p
}

func requireValidation(t *testing.T, err error, code string) *contracts.ValidationErrors {
	t.Helper()
	var verrs *contracts.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected validation errors, got %v", err)
	codes := make([]string, 0, len(verrs.Errors))
	for _, e := range verrs.Errors {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, code)
	return verrs
}

func activeCount(options []contracts.CapOption) int {
	n := 0
	for _, o := range options {
		if o.Active {
			n++
		}
	}
	return n
}
