package simulate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/threshold"
)

func trade(id, entity, c1, c2 string, dev float64) records.Trade {
	return records.Trade{
		TradeID:          id,
		LegalEntity:      entity,
		Ccy1:             c1,
		Ccy2:             c2,
		DeviationPercent: dev,
		NotionalAmount:   decimal.NewFromInt(1_000_000),
	}
}

func engine(t *testing.T, rows ...records.ThresholdEntry) *threshold.Engine {
	t.Helper()
	e, err := threshold.NewEngine(rows, nil)
	require.NoError(t, err)
	return e
}

func TestSimulateTwoTradeExample(t *testing.T) {
	trades := []records.Trade{
		trade("T1", "E1", "EUR", "USD", 1.2),
		trade("T2", "E1", "GBP", "USD", 0.5),
	}
	e := engine(t, records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1.0, Proposed: 1.0})

	res, err := Simulate(context.Background(), trades, e, threshold.Original, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"T1"}, res.AlertIDs())
	assert.Equal(t, 2, res.Evaluated)
	require.Len(t, res.LegalEntitySummary, 1)
	assert.Equal(t, "E1", res.LegalEntitySummary[0].LegalEntity)
	assert.Equal(t, 1, res.LegalEntitySummary[0].AlertCount)
	assert.Equal(t, 100.0, res.LegalEntitySummary[0].ImpactPercentage)
	assert.True(t, decimal.NewFromInt(1_000_000).Equal(res.LegalEntitySummary[0].AlertNotional))
}

func TestSimulateBoundaryIsNotAnAlert(t *testing.T) {
	e := engine(t, records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1.5, Proposed: 1.5})
	res, err := Simulate(context.Background(), []records.Trade{trade("T1", "E1", "EUR", "USD", 1.5)}, e, threshold.Original, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.LegalEntitySummary)
}

func TestSimulateOmitsEntitiesWithoutAlerts(t *testing.T) {
	trades := []records.Trade{
		trade("T1", "E1", "EUR", "USD", 2),
		trade("T2", "E2", "EUR", "USD", 0.1),
		trade("T3", "E3", "EUR", "JPY", 4),
		trade("T4", "E3", "GBP", "JPY", 5),
	}
	e := engine(t,
		records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1},
		records.ThresholdEntry{LegalEntity: "E2", Scope: "ALL", Original: 1, Proposed: 1},
		records.ThresholdEntry{LegalEntity: "E3", Scope: "ALL", Original: 1, Proposed: 1},
	)
	res, err := Simulate(context.Background(), trades, e, threshold.Original, Options{})
	require.NoError(t, err)

	require.Len(t, res.LegalEntitySummary, 2)
	assert.Equal(t, "E1", res.LegalEntitySummary[0].LegalEntity)
	assert.Equal(t, 33.3, res.LegalEntitySummary[0].ImpactPercentage)
	assert.InDelta(t, 1.0/3.0, res.LegalEntitySummary[0].ImpactRatio, 1e-12)
	assert.Equal(t, "E3", res.LegalEntitySummary[1].LegalEntity)
	assert.Equal(t, 66.7, res.LegalEntitySummary[1].ImpactPercentage)

	// derived grid columns: most frequent first, ties by first appearance
	assert.Equal(t, []string{"EUR", "JPY", "USD", "GBP"}, res.BucketSummary.Currencies)
	assert.Equal(t, 2, res.BucketSummary.Cell("1.5%+", "JPY"))
}

func TestSimulateReportsExclusions(t *testing.T) {
	trades := []records.Trade{
		trade("T1", "E1", "EUR", "USD", 2),
		trade("T2", "E9", "EUR", "USD", 2),
		trade("T3", "E1", "EUR", "USD", -1),
	}
	e := engine(t, records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1})

	res, err := Simulate(context.Background(), trades, e, threshold.Original, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, []string{"T1"}, res.AlertIDs())
	require.Len(t, res.Exclusions, 2)
	assert.Equal(t, "T2", res.Exclusions[0].ID)
	assert.ErrorIs(t, res.Exclusions[0].Err, threshold.ErrNoThresholdConfigured)
	assert.ErrorIs(t, res.Exclusions[1].Err, threshold.ErrInvalidDeviation)
}

func TestResetThenAdjustedEqualsProposed(t *testing.T) {
	trades := []records.Trade{
		trade("T1", "E1", "EUR", "USD", 0.6),
		trade("T2", "E1", "GBP", "USD", 1.1),
		trade("T3", "E2", "EUR", "JPY", 2.4),
		trade("T4", "E2", "EUR", "CHF", 0.3),
	}
	e := engine(t,
		records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 0.5, Proposed: 1.0},
		records.ThresholdEntry{LegalEntity: "E2", Scope: "JPY", Original: 3.0, Proposed: 2.0},
		records.ThresholdEntry{LegalEntity: "E2", Scope: "ALL", Original: 0.2, Proposed: 0.4},
	)
	_, err := e.UpdateAdjusted(threshold.Key{LegalEntity: "E1", Scope: "ALL"}, 5)
	require.NoError(t, err)
	_, err = e.UpdateAdjusted(threshold.Key{LegalEntity: "E2", Scope: "ALL"}, 0)
	require.NoError(t, err)

	e.ResetAdjustedToProposed()

	adjusted, err := Simulate(context.Background(), trades, e, threshold.Adjusted, Options{})
	require.NoError(t, err)
	proposed, err := Simulate(context.Background(), trades, e, threshold.Proposed, Options{})
	require.NoError(t, err)

	assert.Equal(t, proposed.AlertIDs(), adjusted.AlertIDs())
	assert.Equal(t, []string{"T2", "T3"}, adjusted.AlertIDs())
}

func TestSimulateIsIdempotent(t *testing.T) {
	trades := []records.Trade{
		trade("T1", "E1", "EUR", "USD", 1.2),
		trade("T2", "E2", "GBP", "USD", 3.5),
		trade("T3", "E1", "AUD", "NZD", 0.2),
		trade("T4", "E3", "EUR", "USD", 7),
	}
	snapshot := append([]records.Trade(nil), trades...)
	e := engine(t,
		records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1},
		records.ThresholdEntry{LegalEntity: "E2", Scope: "USD", Original: 2, Proposed: 2},
	)

	first, err := Simulate(context.Background(), trades, e, threshold.Original, Options{})
	require.NoError(t, err)
	second, err := Simulate(context.Background(), trades, e, threshold.Original, Options{})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, snapshot, trades, "simulation must not mutate its input")
}

func TestSimulateHonoursCancellation(t *testing.T) {
	e := engine(t, records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Simulate(ctx, []records.Trade{trade("T1", "E1", "EUR", "USD", 2)}, e, threshold.Original, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulateRejectsUnknownColumn(t *testing.T) {
	e := engine(t)
	_, err := Simulate(context.Background(), nil, e, threshold.Column("current"), Options{})
	assert.ErrorIs(t, err, threshold.ErrUnknownColumn)
}

func TestSimulateEmptyInput(t *testing.T) {
	e := engine(t)
	res, err := Simulate(context.Background(), nil, e, threshold.Adjusted, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.LegalEntitySummary)
	assert.Empty(t, res.BucketSummary.Currencies)
	assert.Len(t, res.BucketSummary.Rows, 4)
}

func TestRunnerDiscardsSupersededRun(t *testing.T) {
	var r Runner
	started := make(chan struct{})
	var wg sync.WaitGroup
	var firstErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = r.Run(context.Background(), func(ctx context.Context) (Result, error) {
			close(started)
			<-ctx.Done()
			return Result{Column: threshold.Original}, nil
		})
	}()

	<-started
	res, err := r.Run(context.Background(), func(ctx context.Context) (Result, error) {
		return Result{Column: threshold.Proposed}, nil
	})
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, threshold.Proposed, res.Column)
	assert.ErrorIs(t, firstErr, ErrSuperseded)
}

func TestRunnerSequentialRunsSucceed(t *testing.T) {
	var r Runner
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := r.Run(ctx, func(ctx context.Context) (Result, error) { return Result{}, nil })
		cancel()
		assert.NoError(t, err)
	}
}

func TestCompare(t *testing.T) {
	base := Result{Column: threshold.Original, Alerts: []records.Trade{
		trade("T1", "E1", "EUR", "USD", 2),
		trade("T2", "E2", "EUR", "USD", 2),
	}}
	other := Result{Column: threshold.Adjusted, Alerts: []records.Trade{
		trade("T2", "E2", "EUR", "USD", 2),
		trade("T3", "E3", "EUR", "USD", 2),
	}}

	cmp := Compare(base, other)
	assert.Equal(t, 2, cmp.Before)
	assert.Equal(t, 2, cmp.After)
	require.Len(t, cmp.Entities, 3)
	assert.Equal(t, EntityDelta{LegalEntity: "E1", Before: 1, Removed: []string{"T1"}}, cmp.Entities[0])
	assert.Equal(t, EntityDelta{LegalEntity: "E2", Before: 1, After: 1}, cmp.Entities[1])
	assert.Equal(t, EntityDelta{LegalEntity: "E3", After: 1, Added: []string{"T3"}}, cmp.Entities[2])
}

func TestFixedPinsTableVersion(t *testing.T) {
	trades := []records.Trade{trade("T1", "E1", "EUR", "USD", 1.2)}
	e := engine(t, records.ThresholdEntry{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1})
	src := Fixed(e.View())

	_, err := e.UpdateAdjusted(threshold.Key{LegalEntity: "E1", Scope: "ALL"}, 2)
	require.NoError(t, err)

	pinned, err := Simulate(context.Background(), trades, src, threshold.Adjusted, Options{})
	require.NoError(t, err)
	live, err := Simulate(context.Background(), trades, e, threshold.Adjusted, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"T1"}, pinned.AlertIDs())
	assert.Empty(t, live.AlertIDs())
	assert.Less(t, pinned.TableVersion, live.TableVersion)
}
