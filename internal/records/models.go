package records

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTrade marks a trade that violates the record invariants.
var ErrInvalidTrade = errors.New("records: invalid trade")

// ProductType enumerates the traded instrument families.
type ProductType string

const (
	ProductSpot    ProductType = "SPOT"
	ProductForward ProductType = "FORWARD"
	ProductSwap    ProductType = "SWAP"
	ProductOption  ProductType = "OPTION"
)

// Valid reports whether p is a known product type.
func (p ProductType) Valid() bool {
	switch p {
	case ProductSpot, ProductForward, ProductSwap, ProductOption:
		return true
	}
	return false
}

// ExceptionStatus is the ops workflow state of an exception.
type ExceptionStatus string

const (
	StatusOpen       ExceptionStatus = "OPEN"
	StatusInProgress ExceptionStatus = "IN_PROGRESS"
	StatusClosed     ExceptionStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s ExceptionStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Trade is one priced FX transaction.
type Trade struct {
	TradeID          string
	TradeDate        time.Time
	BusinessDate     time.Time
	CcyPair          string
	Ccy1             string
	Ccy2             string
	LegalEntity      string
	ProductType      ProductType
	SourceSystem     string
	NotionalAmount   decimal.Decimal
	DeviationPercent float64
}

// Currencies returns both legs of the pair.
func (t Trade) Currencies() [2]string {
	return [2]string{t.Ccy1, t.Ccy2}
}

// Validate checks the trade invariants.
func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.TradeID) == "":
		return fmt.Errorf("%w: empty trade id", ErrInvalidTrade)
	case len(t.Ccy1) != 3 || len(t.Ccy2) != 3:
		return fmt.Errorf("%w: trade %s: currency codes must have 3 letters", ErrInvalidTrade, t.TradeID)
	case t.Ccy1 == t.Ccy2:
		return fmt.Errorf("%w: trade %s: ccy1 equals ccy2 (%s)", ErrInvalidTrade, t.TradeID, t.Ccy1)
	case !t.ProductType.Valid():
		return fmt.Errorf("%w: trade %s: unknown product type %q", ErrInvalidTrade, t.TradeID, t.ProductType)
	case math.IsNaN(t.DeviationPercent) || math.IsInf(t.DeviationPercent, 0) || t.DeviationPercent < 0:
		return fmt.Errorf("%w: trade %s: deviation %v", ErrInvalidTrade, t.TradeID, t.DeviationPercent)
	case t.NotionalAmount.IsNegative():
		return fmt.Errorf("%w: trade %s: negative notional", ErrInvalidTrade, t.TradeID)
	}
	return nil
}

// Exception is an operational follow-up item linked to a trade.
type Exception struct {
	ExceptionID  string
	TradeID      string
	ReasonCodeID string
	Status       ExceptionStatus
	AssignedTo   string
	Priority     string
}

// ReasonCodeMapping rolls a fine-grained reason code into a high-level code.
type ReasonCodeMapping struct {
	ReasonCodeID  string
	HighLevelCode string
	Description   string
}

// ThresholdEntry is one row of the threshold configuration table.
type ThresholdEntry struct {
	LegalEntity string
	Scope       string
	Original    float64
	Proposed    float64
	Adjusted    float64
}

// ParsePair splits a currency pair such as EURUSD or EUR/USD into its legs.
func ParsePair(pair string) (string, string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(pair))
	cleaned = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(cleaned)
	if len(cleaned) != 6 {
		return "", "", fmt.Errorf("invalid currency pair %q", pair)
	}
	return cleaned[:3], cleaned[3:], nil
}

// Normalize fills the derived fields of a trade: currency legs from the pair and
// upper-cased codes.
func (t Trade) Normalize() (Trade, error) {
	if t.Ccy1 == "" || t.Ccy2 == "" {
		c1, c2, err := ParsePair(t.CcyPair)
		if err != nil {
			return t, fmt.Errorf("%w: trade %s: %v", ErrInvalidTrade, t.TradeID, err)
		}
		t.Ccy1, t.Ccy2 = c1, c2
	}
	t.Ccy1 = strings.ToUpper(t.Ccy1)
	t.Ccy2 = strings.ToUpper(t.Ccy2)
	if t.CcyPair == "" {
		t.CcyPair = t.Ccy1 + t.Ccy2
	}
	t.ProductType = ProductType(strings.ToUpper(string(t.ProductType)))
	return t, nil
}

func errDuplicateTrade(id string) error {
	return fmt.Errorf("%w: duplicate trade id %s", ErrInvalidTrade, id)
}
