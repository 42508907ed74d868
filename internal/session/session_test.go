package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/threshold"
)

type stubLoader struct {
	calls   int
	filters []records.Filter
	err     error
}

func (s *stubLoader) Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error) {
	s.calls++
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, s.err
	}
	return records.NewSnapshot(records.Contents{
		Trades: []records.Trade{
			{TradeID: "T1", CcyPair: "EURUSD", LegalEntity: "E1", DeviationPercent: 1.2, ProductType: records.ProductSpot},
			{TradeID: "T2", CcyPair: "USDUSD", LegalEntity: "E1", DeviationPercent: 0.2, ProductType: records.ProductSpot},
		},
		Thresholds: []records.ThresholdEntry{{LegalEntity: "E1", Scope: "ALL", Original: 1, Proposed: 2}},
	}, filter, time.Now()), nil
}

func TestStartBuildsSession(t *testing.T) {
	loader := &stubLoader{}
	m := NewManager(loader, nil, zerolog.Nop())

	_, err := m.Current()
	assert.ErrorIs(t, err, ErrNoSession)

	filter := records.Filter{LegalEntities: []string{"E1"}}
	s, err := m.Start(context.Background(), filter)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, s.Snapshot.TradeCount())
	assert.Len(t, s.Snapshot.Rejected(), 1)
	assert.Equal(t, 1, s.Engine.View().Len())

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Same(t, s, cur)
}

func TestRefreshReplacesSessionAndResetsThresholds(t *testing.T) {
	loader := &stubLoader{}
	m := NewManager(loader, nil, zerolog.Nop())
	filter := records.Filter{SourceSystems: []string{"MUREX"}}

	first, err := m.Start(context.Background(), filter)
	require.NoError(t, err)
	_, err = first.Engine.UpdateAdjusted(threshold.Key{LegalEntity: "E1", Scope: "ALL"}, 7)
	require.NoError(t, err)

	second, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, filter, loader.filters[1])

	entry, ok := second.Engine.View().Entry(threshold.Key{LegalEntity: "E1", Scope: "ALL"})
	require.True(t, ok)
	assert.Equal(t, 2.0, entry.Adjusted)
}

func TestStartFailureKeepsPreviousSession(t *testing.T) {
	loader := &stubLoader{}
	m := NewManager(loader, nil, zerolog.Nop())
	first, err := m.Start(context.Background(), records.Filter{})
	require.NoError(t, err)

	loader.err = errors.New("db down")
	_, err = m.Refresh(context.Background())
	assert.Error(t, err)

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, first.ID, cur.ID)
}

func TestCloseTearsDown(t *testing.T) {
	m := NewManager(&stubLoader{}, nil, zerolog.Nop())
	_, err := m.Start(context.Background(), records.Filter{})
	require.NoError(t, err)

	m.Close()
	_, err = m.Current()
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRefreshReloadsFromSessionSource(t *testing.T) {
	configured := &stubLoader{}
	uploaded := &stubLoader{}
	m := NewManager(configured, nil, zerolog.Nop())

	first, err := m.StartFrom(context.Background(), uploaded, records.Filter{})
	require.NoError(t, err)
	second, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, uploaded.calls)
	assert.Zero(t, configured.calls)
}
