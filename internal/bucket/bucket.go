// Package bucket classifies deviation percentages into named ranges.
//
// A Table is an ordered list of bounds with inclusive upper ends, closed by an
// open-ended bucket, so it partitions (Floor, +Inf) without gaps or overlaps.
// A zero Floor covers [0, +Inf).
package bucket

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidDeviation is returned for NaN, infinite or negative input.
	ErrInvalidDeviation = errors.New("bucket: invalid deviation")
	// ErrBelowFloor is returned when a value is not above a positive table floor.
	ErrBelowFloor = errors.New("bucket: deviation at or below table floor")
	// ErrInvalidTable is returned by NewTable for malformed boundaries.
	ErrInvalidTable = errors.New("bucket: invalid table")
)

// Bound is one bucket: every value up to and including Upper that is above the
// previous bound's Upper.
type Bound struct {
	Upper float64 `mapstructure:"upper" json:"upper"`
	Label string  `mapstructure:"label" json:"label"`
}

// Open reports whether the bound is the open-ended tail.
func (b Bound) Open() bool { return math.IsInf(b.Upper, 1) }

// Table is a validated, immutable boundary table.
type Table struct {
	name   string
	floor  float64
	bounds []Bound
}

// NewTable validates the bounds. The last bound must be open-ended (+Inf),
// uppers must strictly increase and stay above floor, labels must be unique.
func NewTable(name string, floor float64, bounds []Bound) (Table, error) {
	if len(bounds) == 0 {
		return Table{}, fmt.Errorf("%w: %s has no bounds", ErrInvalidTable, name)
	}
	if math.IsNaN(floor) || floor < 0 {
		return Table{}, fmt.Errorf("%w: %s floor %v", ErrInvalidTable, name, floor)
	}
	seen := make(map[string]struct{}, len(bounds))
	prev := floor
	for i, b := range bounds {
		if b.Label == "" {
			return Table{}, fmt.Errorf("%w: %s bound %d has no label", ErrInvalidTable, name, i)
		}
		if _, dup := seen[b.Label]; dup {
			return Table{}, fmt.Errorf("%w: %s duplicate label %q", ErrInvalidTable, name, b.Label)
		}
		seen[b.Label] = struct{}{}
		if math.IsNaN(b.Upper) || b.Upper <= prev {
			return Table{}, fmt.Errorf("%w: %s bound %q not above %v", ErrInvalidTable, name, b.Label, prev)
		}
		last := i == len(bounds)-1
		if last != b.Open() {
			return Table{}, fmt.Errorf("%w: %s only the last bound may be open-ended", ErrInvalidTable, name)
		}
		prev = b.Upper
	}
	cp := make([]Bound, len(bounds))
	copy(cp, bounds)
	return Table{name: name, floor: floor, bounds: cp}, nil
}

// MustTable is NewTable for static tables.
func MustTable(name string, floor float64, bounds []Bound) Table {
	t, err := NewTable(name, floor, bounds)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the table name.
func (t Table) Name() string { return t.name }

// Floor returns the exclusive lower end (inclusive when zero).
func (t Table) Floor() float64 { return t.floor }

// Len is the number of buckets.
func (t Table) Len() int { return len(t.bounds) }

// Bounds returns a copy of the bounds in order.
func (t Table) Bounds() []Bound {
	cp := make([]Bound, len(t.bounds))
	copy(cp, t.bounds)
	return cp
}

// Labels returns the bucket labels in order.
func (t Table) Labels() []string {
	out := make([]string, len(t.bounds))
	for i, b := range t.bounds {
		out[i] = b.Label
	}
	return out
}

// Lower returns the exclusive lower end of bucket i.
func (t Table) Lower(i int) float64 {
	if i == 0 {
		return t.floor
	}
	return t.bounds[i-1].Upper
}

// ClassifyIndex returns the position of the bucket holding v.
func (t Table) ClassifyIndex(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return -1, fmt.Errorf("%w: %v", ErrInvalidDeviation, v)
	}
	if t.floor > 0 && v <= t.floor {
		return -1, fmt.Errorf("%w: %v <= %v in %s", ErrBelowFloor, v, t.floor, t.name)
	}
	for i, b := range t.bounds {
		if v <= b.Upper {
			return i, nil
		}
	}
	// unreachable for a validated table: the last bound is +Inf
	return len(t.bounds) - 1, nil
}

// Classify returns the label of the bucket holding v.
func (t Table) Classify(v float64) (string, error) {
	i, err := t.ClassifyIndex(v)
	if err != nil {
		return "", err
	}
	return t.bounds[i].Label, nil
}

var inf = math.Inf(1)

// Coarse is the default histogram table.
var Coarse = MustTable("coarse", 0, []Bound{
	{Upper: 1, Label: "0-1%"},
	{Upper: 2, Label: "1-2%"},
	{Upper: 3, Label: "2-3%"},
	{Upper: 5, Label: "3-5%"},
	{Upper: inf, Label: "5%+"},
})

// Groupwise is the default table of the bucket x currency grid.
var Groupwise = MustTable("groupwise", 0, []Bound{
	{Upper: 0.5, Label: "0-0.5%"},
	{Upper: 1, Label: "0.5-1%"},
	{Upper: 1.5, Label: "1-1.5%"},
	{Upper: inf, Label: "1.5%+"},
})

// Expanded is the fine table applied to alerts above the high-deviation cutoff.
var Expanded = MustTable("expanded", 2, []Bound{
	{Upper: 2.5, Label: "2.0-2.5%"},
	{Upper: 3, Label: "2.5-3.0%"},
	{Upper: inf, Label: "3.0%+"},
})

// FromConfig builds a table from configuration, where the open-ended tail is
// written without an upper value.
func FromConfig(name string, floor float64, bounds []Bound) (Table, error) {
	cp := make([]Bound, len(bounds))
	copy(cp, bounds)
	if n := len(cp); n > 0 && cp[n-1].Upper == 0 {
		cp[n-1].Upper = inf
	}
	return NewTable(name, floor, cp)
}
