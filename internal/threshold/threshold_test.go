package threshold

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-deviation-monitor/internal/records"
)

func trade(id, entity, c1, c2 string, dev float64) records.Trade {
	return records.Trade{TradeID: id, LegalEntity: entity, Ccy1: c1, Ccy2: c2, DeviationPercent: dev}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine([]records.ThresholdEntry{
		{LegalEntity: "E1", Scope: "ALL", Original: 1.0, Proposed: 1.5},
		{LegalEntity: "E1", Scope: "JPY", Original: 2.0, Proposed: 2.5},
		{LegalEntity: "E1", Scope: "chf", Original: 0.8, Proposed: 0.9},
		{LegalEntity: "E2", Scope: "G10", Original: 0.5, Proposed: 0.7},
		{LegalEntity: "E3", Scope: "EUR", Original: 1.0, Proposed: 1.0},
	}, map[string]string{"EUR": "g10", "USD": "G10", "GBP": "G10"})
	require.NoError(t, err)
	return e
}

func TestEvaluateStrictGreaterThan(t *testing.T) {
	e := newEngine(t)

	alert, err := e.Evaluate(trade("T1", "E1", "EUR", "USD", 1.0), Original)
	require.NoError(t, err)
	assert.False(t, alert, "deviation equal to the threshold must not alert")

	alert, err = e.Evaluate(trade("T2", "E1", "EUR", "USD", 1.0000001), Original)
	require.NoError(t, err)
	assert.True(t, alert)
}

func TestLookupPrecedence(t *testing.T) {
	view := newEngine(t).View()

	// exact currency beats ALL
	entry, err := view.Lookup(trade("T1", "E1", "USD", "JPY", 0), Original)
	require.NoError(t, err)
	assert.Equal(t, Key{"E1", "JPY"}, entry.Key)

	// both legs configured: the lower threshold applies
	entry, err = view.Lookup(trade("T2", "E1", "CHF", "JPY", 0), Original)
	require.NoError(t, err)
	assert.Equal(t, Key{"E1", "CHF"}, entry.Key)

	// group row for E2
	entry, err = view.Lookup(trade("T3", "E2", "GBP", "USD", 0), Proposed)
	require.NoError(t, err)
	assert.Equal(t, Key{"E2", "G10"}, entry.Key)

	// ALL fallback
	entry, err = view.Lookup(trade("T4", "E1", "GBP", "USD", 0), Original)
	require.NoError(t, err)
	assert.Equal(t, Key{"E1", "ALL"}, entry.Key)
}

func TestEvaluateUnconfigured(t *testing.T) {
	e := newEngine(t)

	_, err := e.Evaluate(trade("T1", "E9", "EUR", "USD", 3), Original)
	assert.ErrorIs(t, err, ErrNoThresholdConfigured)

	// E2 only has a G10 row
	_, err = e.Evaluate(trade("T2", "E2", "AUD", "NZD", 3), Original)
	assert.ErrorIs(t, err, ErrNoThresholdConfigured)

	// E3 has no ALL row and no match for this pair
	_, err = e.Evaluate(trade("T3", "E3", "GBP", "USD", 3), Original)
	assert.ErrorIs(t, err, ErrNoThresholdConfigured)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	e := newEngine(t)

	_, err := e.Evaluate(trade("T1", "E1", "EUR", "USD", -0.1), Original)
	assert.ErrorIs(t, err, ErrInvalidDeviation)

	_, err = e.Evaluate(trade("T1", "E1", "EUR", "USD", math.NaN()), Original)
	assert.ErrorIs(t, err, ErrInvalidDeviation)

	_, err = e.Evaluate(trade("T1", "E1", "EUR", "USD", 1), Column("current"))
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestColumnSelection(t *testing.T) {
	e := newEngine(t)
	tr := trade("T1", "E1", "EUR", "USD", 1.2)

	alert, err := e.Evaluate(tr, Original)
	require.NoError(t, err)
	assert.True(t, alert)

	alert, err = e.Evaluate(tr, Proposed)
	require.NoError(t, err)
	assert.False(t, alert)

	alert, err = e.Evaluate(tr, Adjusted)
	require.NoError(t, err)
	assert.False(t, alert, "adjusted starts equal to proposed")
}

func TestUpdateAdjusted(t *testing.T) {
	e := newEngine(t)
	before := e.View()

	entry, err := e.UpdateAdjusted(Key{"E1", "all"}, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, entry.Adjusted)
	assert.Equal(t, 1.5, entry.Proposed)

	after := e.View()
	assert.Greater(t, after.Version(), before.Version())

	old, _ := before.Entry(Key{"E1", "ALL"})
	assert.Equal(t, 1.5, old.Adjusted, "earlier views are immutable")

	other, _ := after.Entry(Key{"E1", "JPY"})
	assert.Equal(t, 2.5, other.Adjusted, "only the edited row changes")
}

func TestUpdateAdjustedRejectsBeforeMutation(t *testing.T) {
	e := newEngine(t)
	version := e.View().Version()

	for _, v := range []float64{-0.01, 10.01, math.NaN()} {
		_, err := e.UpdateAdjusted(Key{"E1", "ALL"}, v)
		assert.ErrorIs(t, err, ErrThresholdOutOfRange)
	}
	_, err := e.UpdateAdjusted(Key{"E7", "ALL"}, 1)
	assert.ErrorIs(t, err, ErrUnknownThreshold)

	assert.Equal(t, version, e.View().Version())

	_, err = e.UpdateAdjusted(Key{"E1", "ALL"}, 10)
	assert.NoError(t, err)
	_, err = e.UpdateAdjusted(Key{"E1", "ALL"}, 0)
	assert.NoError(t, err)
}

func TestResetAdjustedToProposed(t *testing.T) {
	e := newEngine(t)
	_, err := e.UpdateAdjusted(Key{"E1", "ALL"}, 3)
	require.NoError(t, err)
	_, err = e.UpdateAdjusted(Key{"E2", "G10"}, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, e.ResetAdjustedToProposed())
	for _, entry := range e.View().Entries() {
		assert.Equal(t, entry.Proposed, entry.Adjusted, entry.Key.String())
	}
	assert.Equal(t, 0, e.ResetAdjustedToProposed())
}

func TestConcurrentEditsSerialize(t *testing.T) {
	e := newEngine(t)
	start := e.View().Version()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.UpdateAdjusted(Key{"E1", "ALL"}, float64(i%10))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, start+50, e.View().Version())
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine([]records.ThresholdEntry{
		{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 1},
		{LegalEntity: "E1", Scope: "all", Original: 2, Proposed: 2},
	}, nil)
	assert.ErrorIs(t, err, ErrDuplicateThreshold)

	_, err = NewEngine([]records.ThresholdEntry{{LegalEntity: "E1", Scope: "ALL", Original: 11, Proposed: 1}}, nil)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestParseHelpers(t *testing.T) {
	c, err := ParseColumn(" Adjusted ")
	require.NoError(t, err)
	assert.Equal(t, Adjusted, c)

	k, err := ParseKey("E1/eur")
	require.NoError(t, err)
	assert.Equal(t, Key{"E1", "EUR"}, k)

	_, err = ParseKey("E1")
	assert.Error(t, err)
}
