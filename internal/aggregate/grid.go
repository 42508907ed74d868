package aggregate

import (
	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/records"
)

// GridRow is one bucket of a bucket x currency grid.
type GridRow struct {
	Label string  `json:"label"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"-"`
	Open  bool    `json:"open"`
	Cells []int   `json:"cells"`
	Total int     `json:"total"`
}

// Grid counts trades per (bucket, currency). Both legs of a pair are counted.
// Legs in currencies outside the declared columns are tallied in Unlisted.
type Grid struct {
	Table      string      `json:"table"`
	Currencies []string    `json:"currencies"`
	Rows       []GridRow   `json:"rows"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
	Unlisted   int         `json:"unlisted"`
}

// BucketGrid builds the grid over the declared currency columns. Every bucket
// of the table gets a row and every cell defaults to zero.
func BucketGrid(trades []records.Trade, table bucket.Table, currencies []string) Grid {
	cols := make(map[string]int, len(currencies))
	for i, c := range currencies {
		cols[c] = i
	}

	bounds := table.Bounds()
	grid := Grid{
		Table:      table.Name(),
		Currencies: append([]string(nil), currencies...),
		Rows:       make([]GridRow, len(bounds)),
	}
	for i, b := range bounds {
		grid.Rows[i] = GridRow{Label: b.Label, Lower: table.Lower(i), Upper: b.Upper, Open: b.Open(), Cells: make([]int, len(currencies))}
	}

	for _, t := range trades {
		row, err := table.ClassifyIndex(t.DeviationPercent)
		if err != nil {
			grid.Excluded = append(grid.Excluded, Exclusion{ID: t.TradeID, Err: err})
			continue
		}
		for _, ccy := range t.Currencies() {
			col, ok := cols[ccy]
			if !ok {
				grid.Unlisted++
				continue
			}
			grid.Rows[row].Cells[col]++
			grid.Rows[row].Total++
		}
	}
	return grid
}

// Cell returns the count at (label, currency), zero when absent.
func (g Grid) Cell(label, currency string) int {
	col := -1
	for i, c := range g.Currencies {
		if c == currency {
			col = i
			break
		}
	}
	if col < 0 {
		return 0
	}
	for _, r := range g.Rows {
		if r.Label == label {
			return r.Cells[col]
		}
	}
	return 0
}
