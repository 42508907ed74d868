// Package projection shapes simulation and aggregation output into the fixed
// views the dashboard renders. Everything here is a pure function of its input.
package projection

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"fx-deviation-monitor/internal/aggregate"
	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/simulate"
	"fx-deviation-monitor/internal/threshold"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("projection: unknown dashboard mode")

// Mode selects which tables a dashboard carries.
type Mode string

const (
	// Simplified carries histogram, currencies, entities and ops.
	Simplified Mode = "simplified"
	// Advanced adds the groupwise grid and the expanded summary.
	Advanced Mode = "advanced"
)

// ParseMode accepts the mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Simplified, Advanced:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// DefaultTopN caps the currency ranking and the default groupwise columns.
const DefaultTopN = 10

// Options configure a projection.
type Options struct {
	Mode               Mode
	TopN               int
	Histogram          bucket.Table
	Groupwise          bucket.Table
	Expanded           bucket.Table
	AttentionThreshold float64
	// Currencies are the groupwise columns; empty means the top-N currencies.
	Currencies []string
}

// DefaultOptions is the simplified dashboard with the stock tables.
func DefaultOptions() Options {
	return Options{
		Mode:               Simplified,
		TopN:               DefaultTopN,
		Histogram:          bucket.Coarse,
		Groupwise:          bucket.Groupwise,
		Expanded:           bucket.Expanded,
		AttentionThreshold: 1.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.Histogram.Len() == 0 {
		o.Histogram = d.Histogram
	}
	if o.Groupwise.Len() == 0 {
		o.Groupwise = d.Groupwise
	}
	if o.Expanded.Len() == 0 {
		o.Expanded = d.Expanded
	}
	return o
}

// Input is everything a dashboard is computed from.
type Input struct {
	TradeCount  int
	Simulation  simulate.Result
	Exceptions  []records.Exception
	ReasonCodes aggregate.ReasonLookup
}

// BucketCount is one histogram bar. Percentage is its share of all alerts.
type BucketCount struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CurrencyCount is one entry of the currency ranking; a trade counts once
// for each of its legs.
type CurrencyCount struct {
	Currency   string  `json:"currency"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ReasonCodeCount groups mapped exceptions by high-level reason code.
type ReasonCodeCount struct {
	HighLevelCode string  `json:"high_level_code"`
	Count         int     `json:"count"`
	Ratio         float64 `json:"ratio"`
	Percentage    float64 `json:"percentage"`
}

// StatusCount is the number of exceptions in one workflow status.
type StatusCount struct {
	Status     records.ExceptionStatus `json:"status"`
	Count      int                     `json:"count"`
	Percentage float64                 `json:"percentage"`
}

// GroupwiseRow is one bucket of the groupwise table. Highlight marks buckets
// at or above the attention threshold.
type GroupwiseRow struct {
	Label     string `json:"label"`
	Cells     []int  `json:"cells"`
	Total     int    `json:"total"`
	Highlight bool   `json:"highlight"`
}

// GroupwiseTable is the bucket by currency grid of the detailed mode.
type GroupwiseTable struct {
	AttentionThreshold float64        `json:"attention_threshold"`
	Currencies         []string       `json:"currencies"`
	Rows               []GroupwiseRow `json:"rows"`
}

// ExpandedRow summarises the alerts of one fine-grained bucket.
type ExpandedRow struct {
	Label        string  `json:"label"`
	AlertCount   int     `json:"alert_count"`
	AvgDeviation float64 `json:"avg_deviation"`
	MaxDeviation float64 `json:"max_deviation"`
}

// ExpandedSummary covers alerts at or above Cutoff, the floor of the expanded
// table.
type ExpandedSummary struct {
	Cutoff float64       `json:"cutoff"`
	Total  int           `json:"total"`
	Rows   []ExpandedRow `json:"rows"`
}

// Totals are the headline counts of a dashboard.
type Totals struct {
	Trades             int `json:"trades"`
	Evaluated          int `json:"evaluated"`
	Alerts             int `json:"alerts"`
	Excluded           int `json:"excluded"`
	Exceptions         int `json:"exceptions"`
	UnmappedExceptions int `json:"unmapped_exceptions"`
}

// Dashboard is the full set of views for one simulation.
type Dashboard struct {
	Mode          Mode                    `json:"mode"`
	Column        threshold.Column        `json:"column"`
	TableVersion  uint64                  `json:"table_version"`
	Totals        Totals                  `json:"totals"`
	Histogram     []BucketCount           `json:"histogram"`
	TopCurrencies []CurrencyCount         `json:"top_currencies"`
	LegalEntities []simulate.EntityImpact `json:"legal_entities"`
	Ops           []ReasonCodeCount       `json:"ops"`
	OpsByStatus   []StatusCount           `json:"ops_by_status"`
	Groupwise     *GroupwiseTable         `json:"groupwise,omitempty"`
	Expanded      *ExpandedSummary        `json:"expanded,omitempty"`

	alerts     []records.Trade
	exclusions []aggregate.Exclusion
}

// Build assembles the dashboard.
func Build(in Input, opts Options) (Dashboard, error) {
	opts = opts.withDefaults()
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return Dashboard{}, err
	}

	sim := in.Simulation
	d := Dashboard{
		Mode:          opts.Mode,
		Column:        sim.Column,
		TableVersion:  sim.TableVersion,
		LegalEntities: append([]simulate.EntityImpact{}, sim.LegalEntitySummary...),
		alerts:        sim.Alerts,
		exclusions:    sim.Exclusions,
		Totals: Totals{
			Trades:     in.TradeCount,
			Evaluated:  sim.Evaluated,
			Alerts:     len(sim.Alerts),
			Excluded:   len(sim.Exclusions),
			Exceptions: len(in.Exceptions),
		},
	}

	var err error
	if d.Histogram, err = histogram(sim.Alerts, opts.Histogram); err != nil {
		return Dashboard{}, err
	}
	currencies, err := aggregate.GroupBy(sim.Alerts, aggregate.TradeSchema("top_currencies", aggregate.Currency))
	if err != nil {
		return Dashboard{}, err
	}
	for _, g := range currencies.Top(opts.TopN) {
		d.TopCurrencies = append(d.TopCurrencies, CurrencyCount{Currency: g.Key(), Count: g.Count, Percentage: g.Percentage()})
	}
	if d.Ops, d.Totals.UnmappedExceptions, err = ops(in.Exceptions, in.ReasonCodes); err != nil {
		return Dashboard{}, err
	}
	if d.OpsByStatus, err = opsByStatus(in.Exceptions); err != nil {
		return Dashboard{}, err
	}

	if opts.Mode == Advanced {
		cols := opts.Currencies
		if len(cols) == 0 {
			for _, c := range d.TopCurrencies {
				cols = append(cols, c.Currency)
			}
		}
		d.Groupwise = groupwise(sim.Alerts, opts.Groupwise, cols, opts.AttentionThreshold)
		d.Expanded = expanded(sim.Alerts, opts.Expanded)
	}
	return d, nil
}

func histogram(alerts []records.Trade, table bucket.Table) ([]BucketCount, error) {
	res, err := aggregate.GroupBy(alerts, aggregate.TradeSchema("histogram", aggregate.Bucket(table)))
	if err != nil {
		return nil, err
	}
	out := make([]BucketCount, 0, table.Len())
	for _, label := range table.Labels() {
		row := BucketCount{Label: label}
		if g, ok := res.Lookup(label); ok {
			row.Count = g.Count
			row.Percentage = g.Percentage()
		}
		out = append(out, row)
	}
	return out, nil
}

func ops(exceptions []records.Exception, lookup aggregate.ReasonLookup) ([]ReasonCodeCount, int, error) {
	if lookup == nil {
		lookup = aggregate.ReasonIndex{}
	}
	res, err := aggregate.GroupBy(exceptions, aggregate.ExceptionSchema("ops", aggregate.HighLevelCode(lookup)))
	if err != nil {
		return nil, 0, err
	}
	out := make([]ReasonCodeCount, 0, len(res.Groups))
	for _, g := range res.SortedByCount().Groups {
		out = append(out, ReasonCodeCount{HighLevelCode: g.Key(), Count: g.Count, Ratio: g.Ratio, Percentage: g.Percentage()})
	}
	return out, len(res.Excluded), nil
}

var statusOrder = []records.ExceptionStatus{records.StatusOpen, records.StatusInProgress, records.StatusClosed}

func opsByStatus(exceptions []records.Exception) ([]StatusCount, error) {
	res, err := aggregate.GroupBy(exceptions, aggregate.ExceptionSchema("ops_status", aggregate.Status))
	if err != nil {
		return nil, err
	}
	out := make([]StatusCount, 0, len(statusOrder))
	for _, s := range statusOrder {
		row := StatusCount{Status: s}
		if g, ok := res.Lookup(string(s)); ok {
			row.Count = g.Count
			row.Percentage = g.Percentage()
		}
		out = append(out, row)
	}
	return out, nil
}

func groupwise(alerts []records.Trade, table bucket.Table, currencies []string, attention float64) *GroupwiseTable {
	grid := aggregate.BucketGrid(alerts, table, currencies)
	out := &GroupwiseTable{
		AttentionThreshold: attention,
		Currencies:         grid.Currencies,
		Rows:               make([]GroupwiseRow, len(grid.Rows)),
	}
	for i, r := range grid.Rows {
		out.Rows[i] = GroupwiseRow{
			Label:     r.Label,
			Cells:     r.Cells,
			Total:     r.Total,
			Highlight: r.Lower >= attention,
		}
	}
	return out
}

func expanded(alerts []records.Trade, table bucket.Table) *ExpandedSummary {
	values := make([][]float64, table.Len())
	total := 0
	for _, t := range alerts {
		idx, err := table.ClassifyIndex(t.DeviationPercent)
		if err != nil {
			// below the cutoff, or already reported as excluded upstream
			continue
		}
		values[idx] = append(values[idx], t.DeviationPercent)
		total++
	}

	out := &ExpandedSummary{Cutoff: table.Floor(), Total: total, Rows: make([]ExpandedRow, table.Len())}
	for i, label := range table.Labels() {
		row := ExpandedRow{Label: label, AlertCount: len(values[i])}
		if len(values[i]) > 0 {
			row.AvgDeviation = stat.Mean(values[i], nil)
			row.MaxDeviation = maxOf(values[i])
		}
		out.Rows[i] = row
	}
	return out
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
