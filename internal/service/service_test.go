package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-deviation-monitor/internal/export"
	"fx-deviation-monitor/internal/ingest"
	"fx-deviation-monitor/internal/notify"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/session"
	"fx-deviation-monitor/internal/threshold"
)

type fixtureLoader struct{}

func (fixtureLoader) Load(_ context.Context, filter records.Filter) (*records.Snapshot, error) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id, pair, entity string, dev float64) records.Trade {
		return records.Trade{
			TradeID: id, CcyPair: pair, LegalEntity: entity, ProductType: records.ProductSpot,
			BusinessDate: day, TradeDate: day, NotionalAmount: decimal.NewFromInt(1_000_000), DeviationPercent: dev,
		}
	}
	return records.NewSnapshot(records.Contents{
		Trades: []records.Trade{
			mk("T1", "EURUSD", "E1", 1.2),
			mk("T2", "GBPUSD", "E1", 0.5),
			mk("T3", "USDJPY", "E2", 2.6),
			mk("T4", "EURJPY", "E3", 3.0),
		},
		Exceptions: []records.Exception{
			{ExceptionID: "X1", TradeID: "T1", ReasonCodeID: "RC1", Status: records.StatusOpen},
			{ExceptionID: "X2", TradeID: "T3", ReasonCodeID: "RC9", Status: records.StatusClosed},
		},
		Thresholds: []records.ThresholdEntry{
			{LegalEntity: "E1", Scope: "ALL", Original: 1.0, Proposed: 1.5},
			{LegalEntity: "E2", Scope: "ALL", Original: 2.0, Proposed: 3.0},
		},
		ReasonCodes: []records.ReasonCodeMapping{{ReasonCodeID: "RC1", HighLevelCode: "PRICING"}},
	}, filter, day), nil
}

// swappingLoader serves the fixture first and a one-trade book afterwards.
type swappingLoader struct{ calls int }

func (l *swappingLoader) Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error) {
	l.calls++
	if l.calls == 1 {
		return fixtureLoader{}.Load(ctx, filter)
	}
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	return records.NewSnapshot(records.Contents{
		Trades: []records.Trade{{
			TradeID: "T9", CcyPair: "EURUSD", LegalEntity: "E1", ProductType: records.ProductSpot,
			BusinessDate: day, TradeDate: day, DeviationPercent: 0.1,
		}},
		Thresholds: []records.ThresholdEntry{{LegalEntity: "E1", Scope: "ALL", Original: 1.0, Proposed: 1.5}},
	}, filter, day), nil
}

type recordingNotifier struct {
	digests []notify.Digest
}

func (r *recordingNotifier) Notify(_ context.Context, d notify.Digest) error {
	r.digests = append(r.digests, d)
	return nil
}

func newService(t *testing.T, n notify.Notifier) *Service {
	t.Helper()
	manager := session.NewManager(fixtureLoader{}, nil, zerolog.Nop())
	svc := New(manager, projection.DefaultOptions(), export.New(zerolog.Nop()), n, zerolog.Nop())
	_, err := svc.Start(context.Background(), records.Filter{})
	require.NoError(t, err)
	return svc
}

func TestSimulateWithoutSession(t *testing.T) {
	manager := session.NewManager(fixtureLoader{}, nil, zerolog.Nop())
	svc := New(manager, projection.DefaultOptions(), export.New(zerolog.Nop()), nil, zerolog.Nop())

	_, err := svc.Simulate(context.Background(), threshold.Original)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestSimulateColumns(t *testing.T) {
	svc := newService(t, nil)

	res, err := svc.Simulate(context.Background(), threshold.Original)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T3"}, res.AlertIDs())
	require.Len(t, res.Exclusions, 1)
	assert.Equal(t, "T4", res.Exclusions[0].ID)
	assert.ErrorIs(t, res.Exclusions[0].Err, threshold.ErrNoThresholdConfigured)

	res, err = svc.Simulate(context.Background(), threshold.Proposed)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
}

func TestOverridesAndReset(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	err := svc.ApplyOverrides([]Override{{Key: threshold.Key{LegalEntity: "E1", Scope: "ALL"}, Value: 1.0}})
	require.NoError(t, err)

	res, err := svc.Simulate(ctx, threshold.Adjusted)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, res.AlertIDs())

	err = svc.ApplyOverrides([]Override{{Key: threshold.Key{LegalEntity: "E1", Scope: "ALL"}, Value: 12}})
	assert.ErrorIs(t, err, threshold.ErrThresholdOutOfRange)
	_, err = svc.UpdateThreshold(threshold.Key{LegalEntity: "E9", Scope: "ALL"}, 1)
	assert.ErrorIs(t, err, threshold.ErrUnknownThreshold)

	n, err := svc.ResetThresholds()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only E1 was adjusted")

	adjusted, err := svc.Simulate(ctx, threshold.Adjusted)
	require.NoError(t, err)
	proposed, err := svc.Simulate(ctx, threshold.Proposed)
	require.NoError(t, err)
	assert.Equal(t, proposed.AlertIDs(), adjusted.AlertIDs())
}

func TestCompare(t *testing.T) {
	svc := newService(t, nil)

	cmp, err := svc.Compare(context.Background(), threshold.Original, threshold.Proposed)
	require.NoError(t, err)
	assert.Equal(t, 2, cmp.Before)
	assert.Equal(t, 0, cmp.After)
	require.Len(t, cmp.Entities, 2)
	assert.Equal(t, []string{"T1"}, cmp.Entities[0].Removed)
	assert.Equal(t, []string{"T3"}, cmp.Entities[1].Removed)
}

func TestDashboard(t *testing.T) {
	svc := newService(t, nil)

	d, err := svc.Dashboard(context.Background(), threshold.Original)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Totals.Trades)
	assert.Equal(t, 2, d.Totals.Alerts)
	assert.Equal(t, 1, d.Totals.Excluded)
	assert.Equal(t, 1, d.Totals.UnmappedExceptions)
	require.Len(t, d.Ops, 1)
	assert.Equal(t, "PRICING", d.Ops[0].HighLevelCode)

	counts := map[string]int{}
	for _, b := range d.Histogram {
		counts[b.Label] = b.Count
	}
	assert.Equal(t, 1, counts["1-2%"])
	assert.Equal(t, 1, counts["2-3%"])
}

func TestDashboardUsesOneSessionAcrossRefresh(t *testing.T) {
	ctx := context.Background()
	manager := session.NewManager(&swappingLoader{}, nil, zerolog.Nop())
	svc := New(manager, projection.DefaultOptions(), export.New(zerolog.Nop()), nil, zerolog.Nop())
	before, err := svc.Start(ctx, records.Filter{})
	require.NoError(t, err)

	refreshed := false
	svc.now = func() time.Time {
		if !refreshed {
			refreshed = true
			require.NoError(t, svc.Refresh(ctx, time.Now()))
		}
		return time.Now()
	}

	d, err := svc.Dashboard(ctx, threshold.Original)
	require.NoError(t, err)
	require.True(t, refreshed)
	assert.Equal(t, 4, d.Totals.Trades)
	assert.Equal(t, 2, d.Totals.Alerts)
	assert.Equal(t, 1, d.Totals.UnmappedExceptions)

	after, err := svc.Session()
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)

	d, err = svc.Dashboard(ctx, threshold.Original)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Totals.Trades)
	assert.Zero(t, d.Totals.Alerts)
}

func TestUploadsStartSession(t *testing.T) {
	ctx := context.Background()
	manager := session.NewManager(fixtureLoader{}, nil, zerolog.Nop())
	svc := New(manager, projection.DefaultOptions(), export.New(zerolog.Nop()), nil, zerolog.Nop())

	_, err := svc.Upload(ctx, "positions", "p.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ingest.ErrUnknownKind)

	trades := "trade_id,business_date,ccy_pair,legal_entity,product_type,deviation_percent\n" +
		"U1,2024-03-01,EURUSD,E1,SPOT,1.2\n" +
		"U2,2024-03-01,GBPUSD,E1,SPOT,\n"
	st, err := svc.Upload(ctx, "trades", "trades.csv", strings.NewReader(trades))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rows)
	assert.Equal(t, 1, st.Rejected)

	_, err = svc.StartFromUploads(ctx, records.Filter{})
	assert.ErrorIs(t, err, ingest.ErrIncompleteBatch)

	_, err = svc.Upload(ctx, "thresholds", "thresholds.csv", strings.NewReader("legal_entity,scope,original,proposed\nE1,ALL,11,1\n"))
	assert.ErrorIs(t, err, ErrInvalidUpload)
	_, err = svc.Upload(ctx, "thresholds", "thresholds.csv", strings.NewReader("legal_entity,scope,original,proposed\nE1,ALL,1,1.5\n"))
	require.NoError(t, err)
	assert.Len(t, svc.Uploads(), 2)

	sess, err := svc.StartFromUploads(ctx, records.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Snapshot.TradeCount())

	res, err := svc.Simulate(ctx, threshold.Original)
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, res.AlertIDs())

	require.NoError(t, svc.Refresh(ctx, time.Now()))
	sess, err = svc.Session()
	require.NoError(t, err)
	_, ok := sess.Snapshot.Trade("U1")
	assert.True(t, ok, "refresh reloads the uploaded set")
}

func TestExport(t *testing.T) {
	svc := newService(t, nil)

	out, err := svc.Export(context.Background(), threshold.Original, "legal_entities", export.CSV)
	require.NoError(t, err)
	assert.Contains(t, string(out), "legal_entity,alert_count,impact_percentage,alert_notional")
	assert.Contains(t, string(out), "E1,1,50.0,1000000")

	_, err = svc.Export(context.Background(), threshold.Original, "nope", export.CSV)
	assert.ErrorIs(t, err, projection.ErrUnknownResultSet)
}

func TestNotify(t *testing.T) {
	svc := newService(t, nil)
	res, err := svc.Simulate(context.Background(), threshold.Original)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Notify(context.Background(), res, nil, nil), ErrNotifierDisabled)

	rec := &recordingNotifier{}
	svc = newService(t, rec)
	overrides := []Override{{Key: threshold.Key{LegalEntity: "E1", Scope: "ALL"}, Value: 1.25}}
	require.NoError(t, svc.Notify(context.Background(), res, nil, overrides))
	require.Len(t, rec.digests, 1)
	assert.NotEmpty(t, rec.digests[0].SessionID)
	assert.Equal(t, []string{"E1/ALL=1.25"}, rec.digests[0].Overrides)
}

func TestRefreshStartsNewSession(t *testing.T) {
	svc := newService(t, nil)
	before, err := svc.Session()
	require.NoError(t, err)

	require.NoError(t, svc.Refresh(context.Background(), time.Now()))
	after, err := svc.Session()
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
}

func TestParseOverride(t *testing.T) {
	o, err := ParseOverride("E1/eur=1.25")
	require.NoError(t, err)
	assert.Equal(t, threshold.Key{LegalEntity: "E1", Scope: "EUR"}, o.Key)
	assert.Equal(t, 1.25, o.Value)

	_, err = ParseOverride("E1/ALL")
	assert.Error(t, err)
	_, err = ParseOverride("E1=1")
	assert.ErrorIs(t, err, threshold.ErrUnknownThreshold)
	_, err = ParseOverride("E1/ALL=11")
	assert.ErrorIs(t, err, threshold.ErrThresholdOutOfRange)
	_, err = ParseOverride("E1/ALL=abc")
	assert.Error(t, err)
}
