package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fx-deviation-monitor/internal/records"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// tradeFilterSQL restricts fx_trades by the session filter. Arguments:
// $1 from date, $2 to date, $3 product types, $4 legal entities, $5 source systems.
const tradeFilterSQL = `
        ($1::date IS NULL OR t.business_date >= $1::date)
    AND ($2::date IS NULL OR t.business_date <= $2::date)
    AND (COALESCE(cardinality($3::text[]), 0) = 0 OR t.product_type = ANY($3::text[]))
    AND (COALESCE(cardinality($4::text[]), 0) = 0 OR t.legal_entity = ANY($4::text[]))
    AND (COALESCE(cardinality($5::text[]), 0) = 0 OR t.source_system = ANY($5::text[]))`

const (
	listTradesSQL = `SELECT
        t.trade_id,
        t.trade_date,
        t.business_date,
        t.ccy_pair,
        t.ccy1,
        t.ccy2,
        t.legal_entity,
        t.product_type,
        t.source_system,
        t.notional_amount::text,
        t.deviation_percent::float8
    FROM fx_trades t
    WHERE` + tradeFilterSQL + `
    ORDER BY t.business_date, t.trade_id;`

	listExceptionsSQL = `SELECT
        e.exception_id,
        e.trade_id,
        e.reason_code_id,
        e.status,
        e.assigned_to,
        e.priority
    FROM exceptions e
    LEFT JOIN fx_trades t ON t.trade_id = e.trade_id
    WHERE t.trade_id IS NULL OR (` + tradeFilterSQL + `)
    ORDER BY e.exception_id;`

	listThresholdsSQL = `SELECT
        legal_entity,
        scope,
        original_threshold::float8,
        proposed_threshold::float8,
        adjusted_threshold::float8
    FROM thresholds
    ORDER BY legal_entity, scope;`

	listReasonCodesSQL = `SELECT
        reason_code_id,
        high_level_code,
        description
    FROM reason_code_mappings
    ORDER BY reason_code_id;`
)

// Store loads session snapshots from PostgreSQL.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, queryTimeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		pool:         pool,
		queryTimeout: queryTimeout,
		logger:       logger.With().Str("component", "storage").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Load reads the four record collections concurrently and freezes them into a
// snapshot. Any failed query fails the whole load; a trade row with missing
// values is reported in the snapshot's rejections.
func (s *Store) Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	args := filterArgs(filter)
	var contents records.Contents

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := queryRows(gctx, pool, listTradesSQL, args, scanTrade)
		if err != nil {
			return fmt.Errorf("list trades: %w", err)
		}
		contents.Trades, contents.Rejected = splitTrades(rows)
		return nil
	})
	g.Go(func() error {
		exceptions, err := queryRows(gctx, pool, listExceptionsSQL, args, scanException)
		if err != nil {
			return fmt.Errorf("list exceptions: %w", err)
		}
		contents.Exceptions = exceptions
		return nil
	})
	g.Go(func() error {
		thresholds, err := queryRows(gctx, pool, listThresholdsSQL, nil, scanThreshold)
		if err != nil {
			return fmt.Errorf("list thresholds: %w", err)
		}
		contents.Thresholds = thresholds
		return nil
	})
	g.Go(func() error {
		codes, err := queryRows(gctx, pool, listReasonCodesSQL, nil, scanReasonCode)
		if err != nil {
			return fmt.Errorf("list reason codes: %w", err)
		}
		contents.ReasonCodes = codes
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("trades", len(contents.Trades)).
		Int("unreadable", len(contents.Rejected)).
		Int("exceptions", len(contents.Exceptions)).
		Int("thresholds", len(contents.Thresholds)).
		Int("reason_codes", len(contents.ReasonCodes)).
		Msg("snapshot rows fetched")

	return records.NewSnapshot(contents, filter, s.now()), nil
}

func queryRows[T any](ctx context.Context, pool *pgxpool.Pool, query string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		item, scanErr := scan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// rowScanner is the subset of pgx.Rows the scan helpers need.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ rowScanner = (pgx.Rows)(nil)

func filterArgs(f records.Filter) []any {
	var from, to any
	if !f.From.IsZero() {
		from = f.From
	}
	if !f.To.IsZero() {
		to = f.To
	}
	return []any{
		from,
		to,
		f.ProductTypeStrings(),
		nonNil(f.LegalEntities),
		nonNil(f.SourceSystems),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// scannedTrade is one fx_trades row. Err is set when the row is readable but
// its values cannot form a trade; such rows are rejected, not fatal.
type scannedTrade struct {
	Trade records.Trade
	Err   error
}

func scanTrade(row rowScanner) (scannedTrade, error) {
	var (
		t         records.Trade
		tradeDate pgtype.Date
		pair      pgtype.Text
		ccy1      pgtype.Text
		ccy2      pgtype.Text
		product   pgtype.Text
		source    pgtype.Text
		notional  pgtype.Text
		deviation pgtype.Float8
	)
	if err := row.Scan(
		&t.TradeID,
		&tradeDate,
		&t.BusinessDate,
		&pair,
		&ccy1,
		&ccy2,
		&t.LegalEntity,
		&product,
		&source,
		&notional,
		&deviation,
	); err != nil {
		return scannedTrade{}, err
	}
	// NULL legs stay empty so Normalize derives them from the pair.
	t.CcyPair, t.Ccy1, t.Ccy2 = pair.String, ccy1.String, ccy2.String
	t.ProductType = records.ProductType(product.String)
	t.SourceSystem = source.String
	t.TradeDate = t.BusinessDate
	if tradeDate.Valid {
		t.TradeDate = tradeDate.Time
	}

	if !deviation.Valid {
		return scannedTrade{Trade: t, Err: rejectTrade(t.TradeID, "deviation_percent is NULL")}, nil
	}
	t.DeviationPercent = deviation.Float64
	t.NotionalAmount = decimal.Zero
	if notional.Valid {
		amount, err := decimal.NewFromString(notional.String)
		if err != nil {
			return scannedTrade{Trade: t, Err: rejectTrade(t.TradeID, "notional_amount: "+err.Error())}, nil
		}
		t.NotionalAmount = amount
	}
	return scannedTrade{Trade: t}, nil
}

func rejectTrade(id, reason string) error {
	return fmt.Errorf("%w: trade %s: %s", records.ErrInvalidTrade, id, reason)
}

// splitTrades separates loadable trades from rejected rows.
func splitTrades(rows []scannedTrade) ([]records.Trade, []records.Rejection) {
	trades := make([]records.Trade, 0, len(rows))
	var rejected []records.Rejection
	for _, r := range rows {
		if r.Err != nil {
			rejected = append(rejected, records.Rejection{TradeID: r.Trade.TradeID, Err: r.Err})
			continue
		}
		trades = append(trades, r.Trade)
	}
	return trades, rejected
}

func scanException(row rowScanner) (records.Exception, error) {
	var (
		e        records.Exception
		status   string
		assigned sql.NullString
		priority sql.NullString
	)
	if err := row.Scan(
		&e.ExceptionID,
		&e.TradeID,
		&e.ReasonCodeID,
		&status,
		&assigned,
		&priority,
	); err != nil {
		return records.Exception{}, err
	}
	e.Status = records.ExceptionStatus(status)
	e.AssignedTo = assigned.String
	e.Priority = priority.String
	return e, nil
}

func scanThreshold(row rowScanner) (records.ThresholdEntry, error) {
	var (
		t        records.ThresholdEntry
		adjusted sql.NullFloat64
	)
	if err := row.Scan(
		&t.LegalEntity,
		&t.Scope,
		&t.Original,
		&t.Proposed,
		&adjusted,
	); err != nil {
		return records.ThresholdEntry{}, err
	}
	t.Adjusted = t.Proposed
	if adjusted.Valid {
		t.Adjusted = adjusted.Float64
	}
	return t, nil
}

func scanReasonCode(row rowScanner) (records.ReasonCodeMapping, error) {
	var (
		m    records.ReasonCodeMapping
		desc sql.NullString
	)
	if err := row.Scan(&m.ReasonCodeID, &m.HighLevelCode, &desc); err != nil {
		return records.ReasonCodeMapping{}, err
	}
	m.Description = desc.String
	return m, nil
}
