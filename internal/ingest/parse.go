package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"fx-deviation-monitor/internal/records"
)

// ErrUnknownKind is returned by ParseKind.
var ErrUnknownKind = errors.New("ingest: unknown record kind")

// Kind names one of the record collections a session is built from.
type Kind string

const (
	Trades      Kind = "trades"
	Exceptions  Kind = "exceptions"
	Thresholds  Kind = "thresholds"
	ReasonCodes Kind = "reason_codes"
)

// ParseKind accepts the collection name in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Trades, Exceptions, Thresholds, ReasonCodes:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Encoding of an input file.
type Encoding int

const (
	CSV Encoding = iota
	YAML
)

// EncodingOf picks the encoding from a file name extension; anything that is
// not .yaml or .yml is read as CSV.
func EncodingOf(name string) Encoding {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAML
	}
	return CSV
}

// parser turns file contents into records. It is shared by the directory
// loader and the upload batch.
type parser struct {
	validate *validator.Validate
	logger   zerolog.Logger
}

func newParser(logger zerolog.Logger) parser {
	return parser{validate: newValidator(), logger: logger}
}

// trades reads trades.csv. Lines that fail to parse or validate become
// rejections; only an unreadable file is an error.
func (p parser) trades(ctx context.Context, r io.Reader) ([]records.Trade, []records.Rejection, error) {
	var (
		trades   []records.Trade
		rejected []records.Rejection
	)
	err := readCSV(r, tradeColumns, func(l csvLine) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := parseTradeLine(l)
		if err == nil {
			err = p.validate.Struct(row)
		}
		var trade records.Trade
		if err == nil {
			trade, err = row.toTrade()
		}
		if err != nil {
			rejected = append(rejected, records.Rejection{
				TradeID: row.TradeID,
				Err:     fmt.Errorf("%w: %s line %d: %v", records.ErrInvalidTrade, Trades, l.number, describe(err)),
			})
			return nil
		}
		trades = append(trades, trade)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", Trades, err)
	}
	return trades, rejected, nil
}

// exceptions reads exceptions.csv, skipping rows that fail validation.
func (p parser) exceptions(ctx context.Context, r io.Reader) ([]records.Exception, error) {
	var out []records.Exception
	err := readCSV(r, exceptionColumns, func(l csvLine) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := parseExceptionLine(l)
		if err := p.validate.Struct(row); err != nil {
			p.logger.Warn().Int("line", l.number).Str("exception_id", row.ExceptionID).Err(describe(err)).Msg("exception skipped")
			return nil
		}
		out = append(out, row.toException())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Exceptions, err)
	}
	return out, nil
}

// thresholds reads a threshold table. Any invalid row fails the whole read.
func (p parser) thresholds(ctx context.Context, r io.Reader, enc Encoding) ([]records.ThresholdEntry, error) {
	var rows []thresholdRow
	switch enc {
	case YAML:
		var doc struct {
			Thresholds []thresholdRow `yaml:"thresholds"`
		}
		if err := decodeYAML(r, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", Thresholds, err)
		}
		rows = doc.Thresholds
	default:
		err := readCSV(r, thresholdColumns, func(l csvLine) error {
			row, err := parseThresholdLine(l)
			if err != nil {
				return fmt.Errorf("line %d: %w", l.number, err)
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", Thresholds, err)
		}
	}

	out := make([]records.ThresholdEntry, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.validate.Struct(row); err != nil {
			return nil, fmt.Errorf("%s entry %d (%s/%s): %w", Thresholds, i+1, row.LegalEntity, row.Scope, describe(err))
		}
		out = append(out, row.toEntry())
	}
	return out, nil
}

// reasonCodes reads reason code mappings. Any invalid row fails the read.
func (p parser) reasonCodes(ctx context.Context, r io.Reader, enc Encoding) ([]records.ReasonCodeMapping, error) {
	var rows []reasonCodeRow
	switch enc {
	case YAML:
		var doc struct {
			ReasonCodes []reasonCodeRow `yaml:"reason_codes"`
		}
		if err := decodeYAML(r, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ReasonCodes, err)
		}
		rows = doc.ReasonCodes
	default:
		err := readCSV(r, reasonCodeColumns, func(l csvLine) error {
			rows = append(rows, parseReasonCodeLine(l))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ReasonCodes, err)
		}
	}

	out := make([]records.ReasonCodeMapping, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.validate.Struct(row); err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", ReasonCodes, i+1, describe(err))
		}
		out = append(out, row.toMapping())
	}
	return out, nil
}

func decodeYAML(r io.Reader, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// exceptionsInScope keeps exceptions whose trade matches the filter, plus
// those whose trade is unknown.
func exceptionsInScope(exceptions []records.Exception, trades []records.Trade, filter records.Filter) []records.Exception {
	inScope := make(map[string]bool, len(trades))
	for _, t := range trades {
		matched := false
		if n, err := t.Normalize(); err == nil {
			matched = filter.Match(n)
		}
		inScope[t.TradeID] = inScope[t.TradeID] || matched
	}
	out := make([]records.Exception, 0, len(exceptions))
	for _, e := range exceptions {
		matched, known := inScope[e.TradeID]
		if !known || matched {
			out = append(out, e)
		}
	}
	return out
}
