// Package aggregate groups records by a declared list of dimensions and derives
// count and percentage summaries.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidSchema is returned when a schema cannot be used for grouping.
var ErrInvalidSchema = errors.New("aggregate: invalid schema")

// Dimension selects the key values of a record along one axis. A selector may
// return several values (both legs of a currency pair); the record then counts
// once in each resulting group.
type Dimension[T any] struct {
	Name   string
	Values func(T) ([]string, error)
}

// Schema is the declared list of group-by dimensions of one table.
type Schema[T any] struct {
	Name       string
	Dimensions []Dimension[T]
	ID         func(T) string
}

// Validate checks the schema before any record is touched.
func (s Schema[T]) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("%w: %s declares no dimensions", ErrInvalidSchema, s.Name)
	}
	if s.ID == nil {
		return fmt.Errorf("%w: %s has no id selector", ErrInvalidSchema, s.Name)
	}
	seen := make(map[string]struct{}, len(s.Dimensions))
	for i, d := range s.Dimensions {
		if d.Name == "" || d.Values == nil {
			return fmt.Errorf("%w: %s dimension %d incomplete", ErrInvalidSchema, s.Name, i)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: %s repeats dimension %q", ErrInvalidSchema, s.Name, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// DimensionNames lists the dimension names in declaration order.
func (s Schema[T]) DimensionNames() []string {
	out := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		out[i] = d.Name
	}
	return out
}

// Group is one composite key with its count. Ratio is the unrounded share of
// the result total.
type Group struct {
	Values []string `json:"values"`
	Count  int      `json:"count"`
	Ratio  float64  `json:"ratio"`
}

// Key joins the composite key values.
func (g Group) Key() string { return strings.Join(g.Values, "|") }

// Percentage is Ratio*100 rounded to one decimal place.
func (g Group) Percentage() float64 { return Percent(g.Ratio) }

// Percent converts a ratio to a percentage rounded half-up to one decimal.
func Percent(ratio float64) float64 {
	return decimal.NewFromFloat(ratio).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
}

// Exclusion names a record left out of a result and why.
type Exclusion struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// Reason is the error text, for reporting.
func (e Exclusion) Reason() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// MarshalJSON renders the error as text.
func (e Exclusion) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}{e.ID, e.Reason()})
}

// Result is the outcome of GroupBy. Total counts the included records, not the
// group memberships, so multi-valued dimensions make Sum exceed Total.
type Result struct {
	Schema     string      `json:"schema"`
	Dimensions []string    `json:"dimensions"`
	Total      int         `json:"total"`
	Groups     []Group     `json:"groups"`
	Excluded   []Exclusion `json:"excluded,omitempty"`
}

// GroupBy groups items along the schema dimensions. Groups appear in first-seen
// order. Records whose selectors fail are excluded and reported. Empty input
// yields an empty result.
func GroupBy[T any](items []T, schema Schema[T]) (Result, error) {
	if err := schema.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{
		Schema:     schema.Name,
		Dimensions: schema.DimensionNames(),
		Groups:     []Group{},
	}
	index := make(map[string]int)

	for _, item := range items {
		keys, err := compositeKeys(item, schema.Dimensions)
		if err != nil {
			res.Excluded = append(res.Excluded, Exclusion{ID: schema.ID(item), Err: err})
			continue
		}
		res.Total++
		for _, values := range keys {
			key := strings.Join(values, "|")
			if idx, ok := index[key]; ok {
				res.Groups[idx].Count++
				continue
			}
			index[key] = len(res.Groups)
			res.Groups = append(res.Groups, Group{Values: values, Count: 1})
		}
	}

	for i := range res.Groups {
		res.Groups[i].Ratio = float64(res.Groups[i].Count) / float64(res.Total)
	}
	return res, nil
}

func compositeKeys[T any](item T, dims []Dimension[T]) ([][]string, error) {
	keys := [][]string{{}}
	for _, d := range dims {
		values, err := d.Values(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		next := make([][]string, 0, len(keys)*len(values))
		for _, k := range keys {
			for _, v := range values {
				combined := make([]string, len(k), len(k)+1)
				copy(combined, k)
				next = append(next, append(combined, v))
			}
		}
		keys = next
	}
	return keys, nil
}

// Sum adds up the group counts.
func (r Result) Sum() int {
	total := 0
	for _, g := range r.Groups {
		total += g.Count
	}
	return total
}

// Lookup finds the group with the given composite key.
func (r Result) Lookup(values ...string) (Group, bool) {
	for _, g := range r.Groups {
		if slices.Equal(g.Values, values) {
			return g, true
		}
	}
	return Group{}, false
}

// SortedByCount returns a copy ordered by descending count; ties keep
// first-seen order.
func (r Result) SortedByCount() Result {
	out := r
	out.Groups = slices.Clone(r.Groups)
	slices.SortStableFunc(out.Groups, func(a, b Group) int {
		return b.Count - a.Count
	})
	return out
}

// Top returns the n largest groups by count. n <= 0 returns all of them.
func (r Result) Top(n int) []Group {
	sorted := r.SortedByCount().Groups
	if n <= 0 || n >= len(sorted) {
		return sorted
	}
	return sorted[:n]
}
