// Package threshold owns the per legal-entity deviation threshold table and
// decides which trades alert under it.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/records"
)

const (
	// ScopeAll is the per-entity fallback scope.
	ScopeAll = "ALL"

	// MinThreshold and MaxThreshold bound every threshold value, inclusive.
	MinThreshold = 0.0
	MaxThreshold = 10.0
)

var (
	// ErrNoThresholdConfigured means neither a scoped nor an ALL row matches
	// the trade's entity.
	ErrNoThresholdConfigured = errors.New("threshold: no threshold configured")
	// ErrThresholdOutOfRange rejects a value outside [MinThreshold, MaxThreshold].
	ErrThresholdOutOfRange = errors.New("threshold: value out of range")
	// ErrUnknownThreshold is returned for an edit of a key the table lacks.
	ErrUnknownThreshold = errors.New("threshold: unknown threshold key")
	// ErrDuplicateThreshold rejects a table with two rows for one key.
	ErrDuplicateThreshold = errors.New("threshold: duplicate threshold key")
	// ErrUnknownColumn is returned by ParseColumn.
	ErrUnknownColumn = errors.New("threshold: unknown column")

	// ErrInvalidDeviation is shared with the bucketizer.
	ErrInvalidDeviation = bucket.ErrInvalidDeviation
)

// Column selects which of the three threshold values is active.
type Column string

const (
	Original Column = "original"
	Proposed Column = "proposed"
	Adjusted Column = "adjusted"
)

// ParseColumn accepts the column name in any case.
func ParseColumn(s string) (Column, error) {
	switch c := Column(strings.ToLower(strings.TrimSpace(s))); c {
	case Original, Proposed, Adjusted:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownColumn, s)
}

// Key identifies a threshold row. Scope is a currency, a currency group or ALL.
type Key struct {
	LegalEntity string `json:"legal_entity"`
	Scope       string `json:"scope"`
}

func (k Key) String() string { return k.LegalEntity + "/" + k.Scope }

// ParseKey reads ENTITY/SCOPE.
func ParseKey(s string) (Key, error) {
	entity, scope, ok := strings.Cut(s, "/")
	if !ok || strings.TrimSpace(entity) == "" || strings.TrimSpace(scope) == "" {
		return Key{}, fmt.Errorf("%w: %q, want ENTITY/SCOPE", ErrUnknownThreshold, s)
	}
	return normalizeKey(Key{LegalEntity: entity, Scope: scope}), nil
}

func normalizeKey(k Key) Key {
	return Key{LegalEntity: strings.TrimSpace(k.LegalEntity), Scope: strings.ToUpper(strings.TrimSpace(k.Scope))}
}

// Entry is one threshold row.
type Entry struct {
	Key
	Original float64 `json:"original"`
	Proposed float64 `json:"proposed"`
	Adjusted float64 `json:"adjusted"`
}

// Value returns the threshold of the given column.
func (e Entry) Value(c Column) float64 {
	switch c {
	case Original:
		return e.Original
	case Proposed:
		return e.Proposed
	default:
		return e.Adjusted
	}
}

// ValidateValue checks a threshold percentage against [0, 10].
func ValidateValue(v float64) error {
	if math.IsNaN(v) || v < MinThreshold || v > MaxThreshold {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrThresholdOutOfRange, v, MinThreshold, MaxThreshold)
	}
	return nil
}

// Table is an immutable view of the threshold configuration.
type Table struct {
	version uint64
	entries map[Key]Entry
	groups  map[string]string
}

// Version increases with every accepted mutation.
func (t *Table) Version() uint64 { return t.version }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the row with the given key.
func (t *Table) Entry(k Key) (Entry, bool) {
	e, ok := t.entries[normalizeKey(k)]
	return e, ok
}

// Entries returns all rows sorted by entity then scope.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LegalEntity != out[j].LegalEntity {
			return out[i].LegalEntity < out[j].LegalEntity
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// Group returns the currency group of ccy, if any.
func (t *Table) Group(ccy string) (string, bool) {
	g, ok := t.groups[ccy]
	return g, ok
}

// Lookup resolves the row applying to a trade under column c. Currency rows
// for either leg win over group rows, which win over the entity ALL row. When
// both legs match at the same level the lower threshold applies.
func (t *Table) Lookup(trade records.Trade, c Column) (Entry, error) {
	legs := trade.Currencies()

	var scopes [][]string
	scopes = append(scopes, []string{legs[0], legs[1]})
	var groups []string
	for _, ccy := range legs {
		if g, ok := t.groups[ccy]; ok {
			groups = append(groups, g)
		}
	}
	scopes = append(scopes, groups, []string{ScopeAll})

	for _, level := range scopes {
		var (
			best  Entry
			found bool
		)
		for _, scope := range level {
			e, ok := t.entries[Key{LegalEntity: trade.LegalEntity, Scope: scope}]
			if !ok {
				continue
			}
			if !found || e.Value(c) < best.Value(c) {
				best, found = e, true
			}
		}
		if found {
			return best, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: trade %s (%s %s%s)", ErrNoThresholdConfigured, trade.TradeID, trade.LegalEntity, legs[0], legs[1])
}

// Evaluate reports whether the trade alerts under column c: its deviation is
// strictly greater than the applicable threshold.
func (t *Table) Evaluate(trade records.Trade, c Column) (bool, error) {
	if _, err := ParseColumn(string(c)); err != nil {
		return false, err
	}
	d := trade.DeviationPercent
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return false, fmt.Errorf("%w: trade %s: %v", ErrInvalidDeviation, trade.TradeID, d)
	}
	e, err := t.Lookup(trade, c)
	if err != nil {
		return false, err
	}
	return d > e.Value(c), nil
}

// Engine holds the current table and serializes edits. Readers take a View
// and never observe a partially applied change.
type Engine struct {
	mu      sync.Mutex
	current atomic.Pointer[Table]
}

// NewEngine validates the rows and builds the table. Adjusted starts equal to
// Proposed. groups maps a currency to its group name.
func NewEngine(rows []records.ThresholdEntry, groups map[string]string) (*Engine, error) {
	entries := make(map[Key]Entry, len(rows))
	for _, r := range rows {
		k := normalizeKey(Key{LegalEntity: r.LegalEntity, Scope: r.Scope})
		if k.LegalEntity == "" || k.Scope == "" {
			return nil, fmt.Errorf("%w: empty key %q", ErrUnknownThreshold, k.String())
		}
		if _, dup := entries[k]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateThreshold, k)
		}
		for _, v := range []float64{r.Original, r.Proposed} {
			if err := ValidateValue(v); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
		}
		entries[k] = Entry{Key: k, Original: r.Original, Proposed: r.Proposed, Adjusted: r.Proposed}
	}

	g := make(map[string]string, len(groups))
	for ccy, name := range groups {
		g[strings.ToUpper(ccy)] = strings.ToUpper(name)
	}

	e := &Engine{}
	e.current.Store(&Table{version: 1, entries: entries, groups: g})
	return e, nil
}

// View returns the current immutable table.
func (e *Engine) View() *Table { return e.current.Load() }

// Evaluate evaluates against the current table.
func (e *Engine) Evaluate(trade records.Trade, c Column) (bool, error) {
	return e.View().Evaluate(trade, c)
}

// UpdateAdjusted sets the adjusted value of one row. Invalid values and
// unknown keys are rejected before anything changes.
func (e *Engine) UpdateAdjusted(k Key, v float64) (Entry, error) {
	if err := ValidateValue(v); err != nil {
		return Entry{}, err
	}
	k = normalizeKey(k)

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	entry, ok := cur.entries[k]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownThreshold, k)
	}
	entry.Adjusted = v

	next := cur.clone()
	next.entries[k] = entry
	e.current.Store(next)
	return entry, nil
}

// ResetAdjustedToProposed sets every adjusted value back to proposed in one
// swap and returns the number of rows that changed.
func (e *Engine) ResetAdjustedToProposed() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	next := cur.clone()
	changed := 0
	for k, entry := range next.entries {
		if entry.Adjusted != entry.Proposed {
			changed++
		}
		entry.Adjusted = entry.Proposed
		next.entries[k] = entry
	}
	e.current.Store(next)
	return changed
}

func (t *Table) clone() *Table {
	entries := make(map[Key]Entry, len(t.entries))
	for k, v := range t.entries {
		entries[k] = v
	}
	return &Table{version: t.version + 1, entries: entries, groups: t.groups}
}
