// Package simulate recomputes the alert population under a chosen threshold
// column and summarises its legal-entity and bucket impact.
package simulate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fx-deviation-monitor/internal/aggregate"
	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/threshold"
)

const cancelCheckEvery = 256

// ViewSource supplies the threshold table a run evaluates against.
// *threshold.Engine implements it; Fixed pins a table already taken.
type ViewSource interface {
	View() *threshold.Table
}

type fixedView struct{ table *threshold.Table }

func (f fixedView) View() *threshold.Table { return f.table }

// Fixed returns a source that always yields t, so several runs evaluate the
// same table version.
func Fixed(t *threshold.Table) ViewSource { return fixedView{table: t} }

// Options tune the bucket summary.
type Options struct {
	// Table is the bucket table of the summary grid. Zero value means
	// bucket.Groupwise.
	Table bucket.Table
	// Currencies are the grid columns. When empty the alert currencies are
	// used, most frequent first.
	Currencies []string
	// MaxCurrencies caps derived columns; zero keeps all.
	MaxCurrencies int
}

// EntityImpact is one row of the legal-entity summary.
type EntityImpact struct {
	LegalEntity      string          `json:"legal_entity"`
	AlertCount       int             `json:"alert_count"`
	ImpactRatio      float64         `json:"impact_ratio"`
	ImpactPercentage float64         `json:"impact_percentage"`
	AlertNotional    decimal.Decimal `json:"alert_notional"`
}

// Result is the derived output of one run. Nothing in it aliases the input.
type Result struct {
	Column             threshold.Column      `json:"column"`
	TableVersion       uint64                `json:"table_version"`
	Evaluated          int                   `json:"evaluated"`
	Alerts             []records.Trade       `json:"-"`
	Exclusions         []aggregate.Exclusion `json:"exclusions,omitempty"`
	LegalEntitySummary []EntityImpact        `json:"legal_entity_summary"`
	BucketSummary      aggregate.Grid        `json:"bucket_summary"`
}

// AlertIDs lists the alerting trade ids in input order.
func (r Result) AlertIDs() []string {
	ids := make([]string, len(r.Alerts))
	for i, t := range r.Alerts {
		ids[i] = t.TradeID
	}
	return ids
}

// Simulate evaluates every trade against one view of the table. Trades that
// cannot be evaluated are excluded and reported. The run is deterministic for
// the same inputs and never mutates trades or the table.
func Simulate(ctx context.Context, trades []records.Trade, src ViewSource, column threshold.Column, opts Options) (Result, error) {
	if _, err := threshold.ParseColumn(string(column)); err != nil {
		return Result{}, err
	}
	view := src.View()

	res := Result{
		Column:       column,
		TableVersion: view.Version(),
		Alerts:       []records.Trade{},
	}

	for i, t := range trades {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		alert, err := view.Evaluate(t, column)
		if err != nil {
			res.Exclusions = append(res.Exclusions, aggregate.Exclusion{ID: t.TradeID, Err: err})
			continue
		}
		res.Evaluated++
		if alert {
			res.Alerts = append(res.Alerts, t)
		}
	}

	summary, err := entitySummary(res.Alerts)
	if err != nil {
		return Result{}, err
	}
	res.LegalEntitySummary = summary

	columns, err := gridColumns(res.Alerts, opts)
	if err != nil {
		return Result{}, err
	}
	table := opts.Table
	if table.Len() == 0 {
		table = bucket.Groupwise
	}
	res.BucketSummary = aggregate.BucketGrid(res.Alerts, table, columns)

	return res, nil
}

var entitySchema = aggregate.TradeSchema("legal_entity_impact", aggregate.LegalEntity)

func entitySummary(alerts []records.Trade) ([]EntityImpact, error) {
	grouped, err := aggregate.GroupBy(alerts, entitySchema)
	if err != nil {
		return nil, fmt.Errorf("legal entity summary: %w", err)
	}

	notional := make(map[string]decimal.Decimal, len(grouped.Groups))
	for _, t := range alerts {
		notional[t.LegalEntity] = notional[t.LegalEntity].Add(t.NotionalAmount)
	}

	out := make([]EntityImpact, 0, len(grouped.Groups))
	for _, g := range grouped.Groups {
		entity := g.Values[0]
		out = append(out, EntityImpact{
			LegalEntity:      entity,
			AlertCount:       g.Count,
			ImpactRatio:      g.Ratio,
			ImpactPercentage: g.Percentage(),
			AlertNotional:    notional[entity],
		})
	}
	return out, nil
}

var currencySchema = aggregate.TradeSchema("alert_currencies", aggregate.Currency)

func gridColumns(alerts []records.Trade, opts Options) ([]string, error) {
	if len(opts.Currencies) > 0 {
		return append([]string(nil), opts.Currencies...), nil
	}
	grouped, err := aggregate.GroupBy(alerts, currencySchema)
	if err != nil {
		return nil, fmt.Errorf("alert currencies: %w", err)
	}
	top := grouped.Top(opts.MaxCurrencies)
	cols := make([]string, len(top))
	for i, g := range top {
		cols[i] = g.Key()
	}
	return cols, nil
}
