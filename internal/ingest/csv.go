package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("ingest: missing column")

// csvLine gives access to a CSV record by header name.
type csvLine struct {
	number int
	index  map[string]int
	fields []string
}

func (l csvLine) get(column string) string {
	i, ok := l.index[column]
	if !ok || i >= len(l.fields) {
		return ""
	}
	return strings.TrimSpace(l.fields[i])
}

// float parses a numeric cell. A blank cell yields nil so the row validator
// can reject it instead of reading it as zero.
func (l csvLine) float(column string) (*float64, error) {
	raw := l.get(column)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", column, err)
	}
	return &v, nil
}

// readCSV calls fn for every data line. required lists the header columns that
// must be present.
func readCSV(r io.Reader, required []string, fn func(csvLine) error) error {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("%w %q", ErrMissingColumn, col)
		}
	}

	line := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if err := fn(csvLine{number: line, index: index, fields: fields}); err != nil {
			return err
		}
	}
}

func parseTradeLine(l csvLine) (tradeRow, error) {
	deviation, err := l.float("deviation_percent")
	if err != nil {
		return tradeRow{TradeID: l.get("trade_id")}, err
	}
	return tradeRow{
		TradeID:          l.get("trade_id"),
		TradeDate:        l.get("trade_date"),
		BusinessDate:     l.get("business_date"),
		CcyPair:          l.get("ccy_pair"),
		Ccy1:             l.get("ccy1"),
		Ccy2:             l.get("ccy2"),
		LegalEntity:      l.get("legal_entity"),
		ProductType:      l.get("product_type"),
		SourceSystem:     l.get("source_system"),
		NotionalAmount:   l.get("notional_amount"),
		DeviationPercent: deviation,
	}, nil
}

func parseExceptionLine(l csvLine) exceptionRow {
	return exceptionRow{
		ExceptionID:  l.get("exception_id"),
		TradeID:      l.get("trade_id"),
		ReasonCodeID: l.get("reason_code_id"),
		Status:       strings.ToUpper(l.get("status")),
		AssignedTo:   l.get("assigned_to"),
		Priority:     l.get("priority"),
	}
}

func parseThresholdLine(l csvLine) (thresholdRow, error) {
	row := thresholdRow{
		LegalEntity: l.get("legal_entity"),
		Scope:       l.get("scope"),
	}
	var err error
	if row.Original, err = l.float("original"); err != nil {
		return row, err
	}
	if row.Proposed, err = l.float("proposed"); err != nil {
		return row, err
	}
	if row.Adjusted, err = l.float("adjusted"); err != nil {
		return row, err
	}
	return row, nil
}

func parseReasonCodeLine(l csvLine) reasonCodeRow {
	return reasonCodeRow{
		ReasonCodeID:  l.get("reason_code_id"),
		HighLevelCode: l.get("high_level_code"),
		Description:   l.get("description"),
	}
}
