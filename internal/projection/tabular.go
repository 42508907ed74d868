package projection

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrUnknownResultSet is returned when a named result set does not exist.
var ErrUnknownResultSet = errors.New("projection: unknown result set")

// ResultSet is a named table handed to an exporter. Chart names the numeric
// column to plot against the first column; empty means the set is not chartable.
type ResultSet struct {
	Name    string     `json:"name" msgpack:"name"`
	Columns []string   `json:"columns" msgpack:"columns"`
	Rows    [][]string `json:"rows" msgpack:"rows"`
	Chart   string     `json:"-" msgpack:"-"`
}

// ResultSetNames lists the sets a dashboard of the given mode provides.
func ResultSetNames(m Mode) []string {
	names := []string{"histogram", "top_currencies", "legal_entities", "ops", "ops_status", "alerts", "exclusions"}
	if m == Advanced {
		names = append(names, "groupwise", "expanded")
	}
	return names
}

// ResultSet returns one named table of the dashboard.
func (d Dashboard) ResultSet(name string) (ResultSet, error) {
	switch name {
	case "histogram":
		rs := ResultSet{Name: name, Columns: []string{"bucket", "alert_count", "percentage"}, Chart: "alert_count"}
		for _, b := range d.Histogram {
			rs.Rows = append(rs.Rows, []string{b.Label, itoa(b.Count), pct(b.Percentage)})
		}
		return rs, nil
	case "top_currencies":
		rs := ResultSet{Name: name, Columns: []string{"currency", "alert_count", "percentage"}, Chart: "alert_count"}
		for _, c := range d.TopCurrencies {
			rs.Rows = append(rs.Rows, []string{c.Currency, itoa(c.Count), pct(c.Percentage)})
		}
		return rs, nil
	case "legal_entities":
		rs := ResultSet{Name: name, Columns: []string{"legal_entity", "alert_count", "impact_percentage", "alert_notional"}, Chart: "alert_count"}
		for _, e := range d.LegalEntities {
			rs.Rows = append(rs.Rows, []string{e.LegalEntity, itoa(e.AlertCount), pct(e.ImpactPercentage), e.AlertNotional.String()})
		}
		return rs, nil
	case "ops":
		rs := ResultSet{Name: name, Columns: []string{"high_level_code", "count", "percentage"}, Chart: "count"}
		for _, o := range d.Ops {
			rs.Rows = append(rs.Rows, []string{o.HighLevelCode, itoa(o.Count), pct(o.Percentage)})
		}
		return rs, nil
	case "ops_status":
		rs := ResultSet{Name: name, Columns: []string{"status", "count", "percentage"}, Chart: "count"}
		for _, s := range d.OpsByStatus {
			rs.Rows = append(rs.Rows, []string{string(s.Status), itoa(s.Count), pct(s.Percentage)})
		}
		return rs, nil
	case "alerts":
		rs := ResultSet{Name: name, Columns: []string{"trade_id", "legal_entity", "ccy_pair", "product_type", "deviation_percent", "notional_amount"}}
		for _, t := range d.alerts {
			rs.Rows = append(rs.Rows, []string{
				t.TradeID, t.LegalEntity, t.Ccy1 + t.Ccy2, string(t.ProductType),
				strconv.FormatFloat(t.DeviationPercent, 'f', -1, 64), t.NotionalAmount.String(),
			})
		}
		return rs, nil
	case "exclusions":
		rs := ResultSet{Name: name, Columns: []string{"trade_id", "reason"}}
		for _, e := range d.exclusions {
			rs.Rows = append(rs.Rows, []string{e.ID, e.Reason()})
		}
		return rs, nil
	case "groupwise":
		if d.Groupwise == nil {
			break
		}
		rs := ResultSet{Name: name, Columns: append(append([]string{"bucket"}, d.Groupwise.Currencies...), "total", "highlight"), Chart: "total"}
		for _, r := range d.Groupwise.Rows {
			row := []string{r.Label}
			for _, c := range r.Cells {
				row = append(row, itoa(c))
			}
			rs.Rows = append(rs.Rows, append(row, itoa(r.Total), strconv.FormatBool(r.Highlight)))
		}
		return rs, nil
	case "expanded":
		if d.Expanded == nil {
			break
		}
		rs := ResultSet{Name: name, Columns: []string{"bucket", "alert_count", "avg_deviation", "max_deviation"}, Chart: "alert_count"}
		for _, r := range d.Expanded.Rows {
			rs.Rows = append(rs.Rows, []string{r.Label, itoa(r.AlertCount), fixed(r.AvgDeviation, 4), fixed(r.MaxDeviation, 4)})
		}
		return rs, nil
	}
	return ResultSet{}, fmt.Errorf("%w: %q in %s mode", ErrUnknownResultSet, name, d.Mode)
}

// ResultSets returns every table of the dashboard in a stable order.
func (d Dashboard) ResultSets() []ResultSet {
	names := ResultSetNames(d.Mode)
	out := make([]ResultSet, 0, len(names))
	for _, n := range names {
		if rs, err := d.ResultSet(n); err == nil {
			out = append(out, rs)
		}
	}
	return out
}

// ColumnIndex returns the position of a column, or -1.
func (rs ResultSet) ColumnIndex(name string) int {
	for i, c := range rs.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func itoa(v int) string { return strconv.Itoa(v) }

func pct(v float64) string { return decimal.NewFromFloat(v).StringFixed(1) }

func fixed(v float64, places int32) string { return decimal.NewFromFloat(v).StringFixed(places) }
