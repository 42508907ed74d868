package records

import (
	"slices"
	"time"
)

// Contents is the raw record bundle handed over by a loader.
type Contents struct {
	Trades      []Trade
	Exceptions  []Exception
	Thresholds  []ThresholdEntry
	ReasonCodes []ReasonCodeMapping
	// Rejected carries trades the loader could not even parse.
	Rejected []Rejection
}

// Rejection records a trade that did not make it into the snapshot.
type Rejection struct {
	TradeID string
	Err     error
}

// Snapshot is the immutable record set of one session.
type Snapshot struct {
	filter      Filter
	loadedAt    time.Time
	trades      []Trade
	exceptions  []Exception
	thresholds  []ThresholdEntry
	reasonCodes []ReasonCodeMapping
	rejected    []Rejection

	tradeIndex  map[string]int
	reasonIndex map[string]int
}

// NewSnapshot normalises and validates the contents and freezes them. Trades
// outside the filter are dropped; invalid or duplicated trades are kept out
// and reported through Rejected.
func NewSnapshot(c Contents, filter Filter, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		filter:      filter,
		loadedAt:    loadedAt,
		trades:      make([]Trade, 0, len(c.Trades)),
		exceptions:  slices.Clone(c.Exceptions),
		thresholds:  slices.Clone(c.Thresholds),
		reasonCodes: slices.Clone(c.ReasonCodes),
		rejected:    slices.Clone(c.Rejected),
		tradeIndex:  make(map[string]int, len(c.Trades)),
		reasonIndex: make(map[string]int, len(c.ReasonCodes)),
	}

	for _, raw := range c.Trades {
		t, err := raw.Normalize()
		if err == nil {
			err = t.Validate()
		}
		if err != nil {
			s.rejected = append(s.rejected, Rejection{TradeID: raw.TradeID, Err: err})
			continue
		}
		if !filter.Match(t) {
			continue
		}
		if _, dup := s.tradeIndex[t.TradeID]; dup {
			s.rejected = append(s.rejected, Rejection{TradeID: t.TradeID, Err: errDuplicateTrade(t.TradeID)})
			continue
		}
		s.tradeIndex[t.TradeID] = len(s.trades)
		s.trades = append(s.trades, t)
	}

	for i, m := range s.reasonCodes {
		if _, ok := s.reasonIndex[m.ReasonCodeID]; !ok {
			s.reasonIndex[m.ReasonCodeID] = i
		}
	}
	return s
}

// Filter returns the selection the snapshot was loaded with.
func (s *Snapshot) Filter() Filter { return s.filter }

// LoadedAt returns the load time.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Trades returns a copy of the accepted trades in load order.
func (s *Snapshot) Trades() []Trade { return slices.Clone(s.trades) }

// Exceptions returns a copy of the exceptions.
func (s *Snapshot) Exceptions() []Exception { return slices.Clone(s.exceptions) }

// Thresholds returns a copy of the threshold rows as loaded.
func (s *Snapshot) Thresholds() []ThresholdEntry { return slices.Clone(s.thresholds) }

// ReasonCodes returns a copy of the reason-code mappings.
func (s *Snapshot) ReasonCodes() []ReasonCodeMapping { return slices.Clone(s.reasonCodes) }

// Rejected lists trades excluded at load time.
func (s *Snapshot) Rejected() []Rejection { return slices.Clone(s.rejected) }

// TradeCount is the number of accepted trades.
func (s *Snapshot) TradeCount() int { return len(s.trades) }

// Trade looks up a trade by id.
func (s *Snapshot) Trade(id string) (Trade, bool) {
	idx, ok := s.tradeIndex[id]
	if !ok {
		return Trade{}, false
	}
	return s.trades[idx], true
}

// ReasonCode resolves a reason code id to its mapping.
func (s *Snapshot) ReasonCode(id string) (ReasonCodeMapping, bool) {
	idx, ok := s.reasonIndex[id]
	if !ok {
		return ReasonCodeMapping{}, false
	}
	return s.reasonCodes[idx], true
}
