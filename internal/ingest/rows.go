package ingest

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"fx-deviation-monitor/internal/records"
)

const dateLayout = "2006-01-02"

// tradeRow is one line of trades.csv before conversion.
type tradeRow struct {
	TradeID          string   `yaml:"trade_id" validate:"required"`
	TradeDate        string   `yaml:"trade_date" validate:"omitempty,datetime=2006-01-02"`
	BusinessDate     string   `yaml:"business_date" validate:"required,datetime=2006-01-02"`
	CcyPair          string   `yaml:"ccy_pair" validate:"required_without_all=Ccy1 Ccy2"`
	Ccy1             string   `yaml:"ccy1" validate:"omitempty,len=3,alpha"`
	Ccy2             string   `yaml:"ccy2" validate:"omitempty,len=3,alpha"`
	LegalEntity      string   `yaml:"legal_entity" validate:"required"`
	ProductType      string   `yaml:"product_type" validate:"required,oneof=SPOT FORWARD SWAP OPTION spot forward swap option"`
	SourceSystem     string   `yaml:"source_system"`
	NotionalAmount   string   `yaml:"notional_amount" validate:"omitempty,number"`
	DeviationPercent *float64 `yaml:"deviation_percent" validate:"required,gte=0"`
}

// exceptionRow is one line of exceptions.csv.
type exceptionRow struct {
	ExceptionID  string `yaml:"exception_id" validate:"required"`
	TradeID      string `yaml:"trade_id" validate:"required"`
	ReasonCodeID string `yaml:"reason_code_id" validate:"required"`
	Status       string `yaml:"status" validate:"required,oneof=OPEN IN_PROGRESS CLOSED"`
	AssignedTo   string `yaml:"assigned_to"`
	Priority     string `yaml:"priority"`
}

// thresholdRow is one threshold entry, from CSV or YAML.
type thresholdRow struct {
	LegalEntity string   `yaml:"legal_entity" validate:"required"`
	Scope       string   `yaml:"scope" validate:"required"`
	Original    *float64 `yaml:"original" validate:"required,gte=0,lte=10"`
	Proposed    *float64 `yaml:"proposed" validate:"required,gte=0,lte=10"`
	Adjusted    *float64 `yaml:"adjusted,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// reasonCodeRow is one reason code mapping, from CSV or YAML.
type reasonCodeRow struct {
	ReasonCodeID  string `yaml:"reason_code_id" validate:"required"`
	HighLevelCode string `yaml:"high_level_code" validate:"required"`
	Description   string `yaml:"description"`
}

// newValidator reports field names by their file column names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed (%s)", strings.Join(parts, "; "))
}

func (r tradeRow) toTrade() (records.Trade, error) {
	business, err := time.Parse(dateLayout, r.BusinessDate)
	if err != nil {
		return records.Trade{}, fmt.Errorf("business_date: %w", err)
	}
	traded := business
	if r.TradeDate != "" {
		if traded, err = time.Parse(dateLayout, r.TradeDate); err != nil {
			return records.Trade{}, fmt.Errorf("trade_date: %w", err)
		}
	}
	notional := decimal.Zero
	if r.NotionalAmount != "" {
		if notional, err = decimal.NewFromString(r.NotionalAmount); err != nil {
			return records.Trade{}, fmt.Errorf("notional_amount: %w", err)
		}
	}
	return records.Trade{
		TradeID:          r.TradeID,
		TradeDate:        traded,
		BusinessDate:     business,
		CcyPair:          r.CcyPair,
		Ccy1:             r.Ccy1,
		Ccy2:             r.Ccy2,
		LegalEntity:      r.LegalEntity,
		ProductType:      records.ProductType(r.ProductType),
		SourceSystem:     r.SourceSystem,
		NotionalAmount:   notional,
		DeviationPercent: *r.DeviationPercent,
	}, nil
}

func (r exceptionRow) toException() records.Exception {
	return records.Exception{
		ExceptionID:  r.ExceptionID,
		TradeID:      r.TradeID,
		ReasonCodeID: r.ReasonCodeID,
		Status:       records.ExceptionStatus(r.Status),
		AssignedTo:   r.AssignedTo,
		Priority:     r.Priority,
	}
}

func (r thresholdRow) toEntry() records.ThresholdEntry {
	e := records.ThresholdEntry{
		LegalEntity: r.LegalEntity,
		Scope:       strings.ToUpper(r.Scope),
		Original:    *r.Original,
		Proposed:    *r.Proposed,
		Adjusted:    *r.Proposed,
	}
	if r.Adjusted != nil {
		e.Adjusted = *r.Adjusted
	}
	return e
}

func (r reasonCodeRow) toMapping() records.ReasonCodeMapping {
	return records.ReasonCodeMapping{
		ReasonCodeID:  r.ReasonCodeID,
		HighLevelCode: r.HighLevelCode,
		Description:   r.Description,
	}
}
