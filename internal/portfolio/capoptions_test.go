package portfolio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/contracts"
)

func addCapOption(t *testing.T, svc *Service, id string, pct float64, topN int) []contracts.CapOption {
	t.Helper()
	out, err := svc.UpdateCapOptions(context.Background(), id, CapMutation{
		Add: &NewCapOption{CapPercentage: pct, TopN: topN},
	})
	require.NoError(t, err)
	return out
}

func TestUpdateCapOptions_AddActivatesAndCachesWeights(t *testing.T) {
	svc, _, engine := newTestService(t)
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT", "NVDA")

	opts := addCapOption(t, svc, p.ID, 40, 1)
	require.Len(t, opts, 1)
	o := opts[0]

	assert.InDelta(t, 0.4, o.CapPercentage, 1e-9)
	assert.Equal(t, 1, o.TopN)
	assert.True(t, o.Active)
	assert.True(t, o.HasWeights())
	assert.InDelta(t, 0.4, o.Weights["AAPL"], 1e-9)

	call := engine.lastCall()
	require.NotNil(t, call.cap)
	assert.InDelta(t, 0.4, *call.cap, 1e-9)
	assert.Equal(t, 1, *call.topN)
}

func TestUpdateCapOptions_AtMostOneActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")

	addCapOption(t, svc, p.ID, 40, 1)
	opts := addCapOption(t, svc, p.ID, 25, 2)
	require.Len(t, opts, 2)
	assert.Equal(t, 1, activeCount(opts))
	assert.False(t, opts[0].Active)
	assert.True(t, opts[1].Active)

	require.NoError(t, svc.Activate(context.Background(), p.ID, opts[0].ID))
	opts, err := svc.CapOptions(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount(opts))
	assert.True(t, opts[0].Active)
}

func TestUpdateCapOptions_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL")
	addCapOption(t, svc, p.ID, 40, 1)

	_, err := svc.UpdateCapOptions(ctx, p.ID, CapMutation{Add: &NewCapOption{CapPercentage: 40, TopN: 1}})
	requireValidation(t, err, contracts.CodeDuplicate)

	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{Add: &NewCapOption{CapPercentage: 0, TopN: 1}})
	requireValidation(t, err, contracts.CodeRange)

	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{Add: &NewCapOption{CapPercentage: 120, TopN: 1}})
	requireValidation(t, err, contracts.CodeRange)

	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{Add: &NewCapOption{CapPercentage: 10, TopN: 0}})
	requireValidation(t, err, contracts.CodeRange)

	missing := int64(999)
	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{ToggleID: &missing})
	requireValidation(t, err, contracts.CodeNotFound)

	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{RemoveID: &missing})
	requireValidation(t, err, contracts.CodeNotFound)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestUpdateCapOptions_EngineFailureRollsBackAdd(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	first := addCapOption(t, svc, p.ID, 40, 1)[0]

	engine.fail(errEngineDown)
	_, err := svc.UpdateCapOptions(ctx, p.ID, CapMutation{Add: &NewCapOption{CapPercentage: 30, TopN: 1}})
	require.ErrorIs(t, err, errEngineDown)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, first.ID, opts[0].ID)
	assert.True(t, opts[0].Active)
}

func TestUpdateCapOptions_ToggleClearRemove(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addCapOption(t, svc, p.ID, 40, 1)
	opts := addCapOption(t, svc, p.ID, 25, 2)
	first, second := opts[0], opts[1]

	// toggling an inactive option with cached weights activates it without the engine
	calls := engine.callCount()
	opts, err := svc.UpdateCapOptions(ctx, p.ID, CapMutation{ToggleID: &first.ID})
	require.NoError(t, err)
	assert.True(t, opts[0].Active)
	assert.False(t, opts[1].Active)
	assert.Equal(t, calls, engine.callCount())

	opts, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{ToggleID: &first.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, activeCount(opts))

	_, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{ToggleID: &second.ID})
	require.NoError(t, err)
	opts, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{Clear: true})
	require.NoError(t, err)
	assert.Equal(t, 0, activeCount(opts))

	opts, err = svc.UpdateCapOptions(ctx, p.ID, CapMutation{RemoveID: &second.ID})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, first.ID, opts[0].ID)
}

func TestApplyCapAndRedistribute_RecordsVersion(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT", "NVDA")

	// the latest version drops NVDA; the cap run follows it
	_, err := svc.CommitTickers(ctx, p.ID, tickers("AAPL", "MSFT"), CommitOptions{})
	require.NoError(t, err)

	v, err := svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 50, TopN: 1, Notes: "cap it"})
	require.NoError(t, err)

	assert.Equal(t, 3, v.VersionNumber)
	require.True(t, v.HasCapProvenance())
	assert.InDelta(t, 0.5, *v.CapPercentage, 1e-9)
	assert.Equal(t, 1, *v.TopN)
	assert.Equal(t, "Cap 50.00% on top 1", v.Title)
	assert.Equal(t, "cap it", v.Notes)
	assert.Equal(t, []string{"AAPL", "MSFT"}, engine.lastCall().tickers)
	assert.Equal(t, []string{"AAPL", "MSFT"}, v.Tickers.Symbols())
	assert.InDelta(t, 0.5, v.Weights["MSFT"], 1e-9)
	assert.NotContains(t, v.Weights, "NVDA")

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.True(t, opts[0].Active)
	assert.Equal(t, v.Weights, opts[0].Weights)

	got, err := svc.GetPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Weights, got.Weights)

	// a second run with the same parameters reuses the option
	_, err = svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 50, TopN: 1})
	require.NoError(t, err)
	opts, err = svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestApplyCapAndRedistribute_EngineFailureRollsBack(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")

	engine.fail(errEngineDown)
	_, err := svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 50, TopN: 1})
	require.ErrorIs(t, err, errEngineDown)

	versions, err := svc.Versions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestApplyCapAndRedistribute_Validation(t *testing.T) {
	svc, _, engine := newTestService(t)
	p := createPortfolio(t, svc, "Tech", "AAPL")
	calls := engine.callCount()

	_, err := svc.ApplyCapAndRedistribute(context.Background(), p.ID, CapApply{CapPercentage: -1, TopN: 1})
	requireValidation(t, err, contracts.CodeRange)
	assert.Equal(t, calls, engine.callCount())
}

func TestCapFractionOf(t *testing.T) {
	f, err := capFractionOf(12.5, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.125, f, 1e-12)

	f, err = capFractionOf(100, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f, 1e-12)

	// rounds to zero at three decimals
	_, err = capFractionOf(0.01, 1)
	requireValidation(t, err, contracts.CodeRange)
}

func TestCommitTickers_NewTickerSetInvalidatesCapOptions(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")

	_, err := svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 60, TopN: 1})
	require.NoError(t, err)

	_, err = svc.CommitTickers(ctx, p.ID, tickers("GOOG", "AMZN"), CommitOptions{})
	require.NoError(t, err)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.False(t, opts[0].Active)
	assert.False(t, opts[0].HasWeights())

	view, err := svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, view.ActiveOption)
	assert.Equal(t, []string{"GOOG", "AMZN"}, view.Tickers.Symbols())
	assert.InDelta(t, 0.5, view.BaseWeights["GOOG"], 1e-9)
	assert.NotContains(t, view.BaseWeights, "AAPL")

	// the next cap run works on the committed tickers
	v, err := svc.ApplyCapAndRedistribute(ctx, p.ID, CapApply{CapPercentage: 60, TopN: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, v.VersionNumber)
	assert.Equal(t, []string{"GOOG", "AMZN"}, v.Tickers.Symbols())
	assert.Equal(t, []string{"GOOG", "AMZN"}, engine.lastCall().tickers)
	assert.InDelta(t, 0.6, v.Weights["GOOG"], 1e-9)

	view, err = svc.View(ctx, p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, view.ActiveOption)
	assert.InDelta(t, 0.6, view.BaseWeights["GOOG"], 1e-9)
}

func TestCommitTickers_OverwriteWithNewTickersInvalidatesCapOptions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addCapOption(t, svc, p.ID, 60, 1)

	_, err := svc.CommitTickers(ctx, p.ID, tickers("GOOG"), CommitOptions{Overwrite: true})
	require.NoError(t, err)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.False(t, opts[0].Active)
	assert.False(t, opts[0].HasWeights())
}

func TestCommitTickers_SameTickerSetKeepsActiveOption(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	added := addCapOption(t, svc, p.ID, 60, 1)[0]

	// reordering does not change the set
	_, err := svc.CommitTickers(ctx, p.ID, tickers("MSFT", "AAPL"), CommitOptions{})
	require.NoError(t, err)

	opts, err := svc.CapOptions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.True(t, opts[0].Active)
	assert.Equal(t, added.Weights, opts[0].Weights)
}

func TestActivate_ComputesMissingWeights(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	src := createPortfolio(t, svc, "Tech", "AAPL", "MSFT", "GOOG")
	addCapOption(t, svc, src.ID, 60, 1)

	engine.fail(errEngineDown)
	cp, err := svc.CopyPortfolio(ctx, src.ID, "Mine")
	require.NoError(t, err)
	engine.fail(nil)

	opts, err := svc.CapOptions(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	require.False(t, opts[0].HasWeights())

	require.NoError(t, svc.Activate(ctx, cp.ID, opts[0].ID))

	opts, err = svc.CapOptions(ctx, cp.ID)
	require.NoError(t, err)
	assert.True(t, opts[0].Active)
	assert.True(t, opts[0].HasWeights())
	assert.InDelta(t, 0.6, opts[0].Weights["AAPL"], 1e-9)

	view, err := svc.View(ctx, cp.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, view.BaseWeights["AAPL"], 1e-9)
}

func TestActivate_EngineFailureRollsBack(t *testing.T) {
	svc, _, engine := newTestService(t)
	ctx := context.Background()
	src := createPortfolio(t, svc, "Tech", "AAPL", "MSFT")
	addCapOption(t, svc, src.ID, 60, 1)

	engine.fail(errEngineDown)
	cp, err := svc.CopyPortfolio(ctx, src.ID, "Mine")
	require.NoError(t, err)
	opts, err := svc.CapOptions(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, opts, 1)

	err = svc.Activate(ctx, cp.ID, opts[0].ID)
	require.ErrorIs(t, err, errEngineDown)

	opts, err = svc.CapOptions(ctx, cp.ID)
	require.NoError(t, err)
	assert.False(t, opts[0].Active)
	assert.False(t, opts[0].HasWeights())
}
