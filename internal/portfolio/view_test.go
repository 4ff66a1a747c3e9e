package portfolio

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/contracts"
)

func TestView_CurrentUsesLatestVersionAndAllocations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addAllocation(t, svc, p.ID, "Cash", 20)

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)

	assert.True(t, view.Current)
	require.NotNil(t, view.Version)
	assert.Equal(t, 1, view.Version.VersionNumber)
	assert.Nil(t, view.ActiveOption)
	assert.InDelta(t, 0.5, view.BaseWeights["AAPL"], 1e-9)
	assert.InDelta(t, 0.4, view.Adjusted["AAPL"], 1e-9)
	assert.InDelta(t, 0.4, view.Adjusted["MSFT"], 1e-9)
	assert.InDelta(t, 0.2, view.AllocatedFraction, 1e-9)
}

func TestView_ActiveOptionWeightsWin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addCapOption(t, svc, p.ID, 80, 1)

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, view.ActiveOption)
	assert.InDelta(t, 0.8, view.BaseWeights["AAPL"], 1e-9)
	assert.InDelta(t, 0.8, view.Adjusted["AAPL"], 1e-9)
	assert.Len(t, view.CapOptions, 1)

	// cleared options fall back to the version weights
	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{Clear: true})
	require.NoError(t, err)
	view, err = svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, view.ActiveOption)
	assert.InDelta(t, 0.5, view.BaseWeights["AAPL"], 1e-9)
}

func TestView_HistoricalVersion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	_, err := svc.CommitTickers(ctx, p.ID, tickers("NVDA"), CommitOptions{})
	require.NoError(t, err)
	addCapOption(t, svc, p.ID, 80, 1)
	addAllocation(t, svc, p.ID, "Cash", 50)

	one := 1
	view, err := svc.View(ctx, p.ID, &one)
	require.NoError(t, err)

	assert.False(t, view.Current)
	assert.Nil(t, view.ActiveOption)
	assert.Equal(t, []string{"AAPL", "MSFT"}, view.Tickers.Symbols())
	assert.InDelta(t, 0.5, view.BaseWeights["AAPL"], 1e-9)
	// allocations are not versioned
	assert.InDelta(t, 0.25, view.Adjusted["AAPL"], 1e-9)

	two := 2
	view, err = svc.View(ctx, p.ID, &two)
	require.NoError(t, err)
	assert.True(t, view.Current)
	assert.NotNil(t, view.ActiveOption)
}

func TestView_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	missing := 7
	_, err := svc.View(ctx, p.ID, &missing)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	assert.NotErrorIs(t, err, ErrPortfolioNotFound)

	_, err = svc.View(ctx, uuid.NewString(), nil)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestView_WithoutVersionsUsesPortfolioFields(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	p := &contracts.Portfolio{
		ID:      uuid.NewString(),
		Name:    "Bare",
		Tickers: tickers("AAPL"),
		Weights: contracts.Weights{"AAPL": 1},
	}
	require.NoError(t, store.CreatePortfolio(ctx, p, nil))

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, view.Version)
	assert.Equal(t, contracts.Weights{"AAPL": 1}, view.BaseWeights)
}

func TestView_ResultIsIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	view.Adjusted["AAPL"] = 0
	view.BaseWeights["AAPL"] = 0

	again, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, again.BaseWeights["AAPL"], 1e-9)
}

func TestRender(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addAllocation(t, svc, p.ID, "Cash", 20)
	addCapOption(t, svc, p.ID, 40, 1)

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, view))
	out := buf.String()

	assert.Contains(t, out, "Portfolio: Tech")
	assert.Contains(t, out, p.ID)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "AAPL Inc.")
	assert.Contains(t, out, "40.00%")
	assert.Contains(t, out, "Cash")
	assert.Contains(t, out, "20.00%")
	assert.Contains(t, out, "enabled")
	assert.Contains(t, out, "active")
}

func TestRender_EmptySections(t *testing.T) {
	view := &contracts.PortfolioView{
		Portfolio: &contracts.Portfolio{ID: "p1", Name: "Empty"},
		Current:   true,
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, view))
	assert.Contains(t, buf.String(), none)
}

func TestRenderVersions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	_, err := svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 40, TopN: 1})
	require.NoError(t, err)

	versions, err := svc.Versions(ctx, p.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderVersions(&buf, versions))
	out := buf.String()
	assert.Contains(t, out, `Create "Tech"`)
	assert.Contains(t, out, "AAPL, MSFT")
	assert.Contains(t, out, "40.00% top 1")

	buf.Reset()
	require.NoError(t, RenderVersions(&buf, nil))
	assert.Contains(t, buf.String(), none)
}
