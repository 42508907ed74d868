package aggregate

import (
	"errors"
	"fmt"

	"fx-deviation-monitor/internal/bucket"
	"fx-deviation-monitor/internal/records"
)

// ErrUnknownReasonCode marks an exception whose reason code has no mapping.
var ErrUnknownReasonCode = errors.New("aggregate: unknown reason code")

func single[T any](name string, f func(T) string) Dimension[T] {
	return Dimension[T]{Name: name, Values: func(v T) ([]string, error) {
		return []string{f(v)}, nil
	}}
}

// Trade dimensions.
var (
	LegalEntity  = single("legal_entity", func(t records.Trade) string { return t.LegalEntity })
	Ccy1         = single("ccy1", func(t records.Trade) string { return t.Ccy1 })
	Ccy2         = single("ccy2", func(t records.Trade) string { return t.Ccy2 })
	CcyPair      = single("ccy_pair", func(t records.Trade) string { return t.Ccy1 + t.Ccy2 })
	ProductType  = single("product_type", func(t records.Trade) string { return string(t.ProductType) })
	SourceSystem = single("source_system", func(t records.Trade) string { return t.SourceSystem })

	// Currency yields both legs, so each trade counts once per leg.
	Currency = Dimension[records.Trade]{Name: "currency", Values: func(t records.Trade) ([]string, error) {
		return []string{t.Ccy1, t.Ccy2}, nil
	}}
)

// Bucket groups trades by the deviation bucket of the given table.
func Bucket(table bucket.Table) Dimension[records.Trade] {
	return Dimension[records.Trade]{
		Name: "bucket:" + table.Name(),
		Values: func(t records.Trade) ([]string, error) {
			label, err := table.Classify(t.DeviationPercent)
			if err != nil {
				return nil, err
			}
			return []string{label}, nil
		},
	}
}

// TradeSchema declares a trade table grouped by dims.
func TradeSchema(name string, dims ...Dimension[records.Trade]) Schema[records.Trade] {
	return Schema[records.Trade]{
		Name:       name,
		Dimensions: dims,
		ID:         func(t records.Trade) string { return t.TradeID },
	}
}

// ReasonLookup resolves reason code ids. *records.Snapshot implements it.
type ReasonLookup interface {
	ReasonCode(id string) (records.ReasonCodeMapping, bool)
}

// ReasonIndex is a map-backed ReasonLookup.
type ReasonIndex map[string]records.ReasonCodeMapping

// NewReasonIndex indexes mappings by id; the first mapping of an id wins.
func NewReasonIndex(mappings []records.ReasonCodeMapping) ReasonIndex {
	idx := make(ReasonIndex, len(mappings))
	for _, m := range mappings {
		if _, ok := idx[m.ReasonCodeID]; !ok {
			idx[m.ReasonCodeID] = m
		}
	}
	return idx
}

// ReasonCode implements ReasonLookup.
func (r ReasonIndex) ReasonCode(id string) (records.ReasonCodeMapping, bool) {
	m, ok := r[id]
	return m, ok
}

// HighLevelCode rolls exceptions up to their high-level reason code.
func HighLevelCode(lookup ReasonLookup) Dimension[records.Exception] {
	return Dimension[records.Exception]{
		Name: "high_level_code",
		Values: func(e records.Exception) ([]string, error) {
			m, ok := lookup.ReasonCode(e.ReasonCodeID)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownReasonCode, e.ReasonCodeID)
			}
			return []string{m.HighLevelCode}, nil
		},
	}
}

// Status groups exceptions by workflow status.
var Status = single("status", func(e records.Exception) string { return string(e.Status) })

// ExceptionSchema declares an exception table grouped by dims.
func ExceptionSchema(name string, dims ...Dimension[records.Exception]) Schema[records.Exception] {
	return Schema[records.Exception]{
		Name:       name,
		Dimensions: dims,
		ID:         func(e records.Exception) string { return e.ExceptionID },
	}
}
