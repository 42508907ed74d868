// Package ingest builds session snapshots from CSV and YAML files, either read
// from a directory or uploaded one collection at a time.
//
// Expected directory layout:
//
//	trades.csv                           required
//	exceptions.csv                       optional
//	thresholds.yaml | thresholds.csv     required
//	reason_codes.yaml | reason_codes.csv optional
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fx-deviation-monitor/internal/records"
)

// ErrMissingFile is returned when a required input file is absent.
var ErrMissingFile = errors.New("ingest: missing file")

var (
	tradeColumns      = []string{"trade_id", "business_date", "legal_entity", "product_type", "deviation_percent"}
	exceptionColumns  = []string{"exception_id", "trade_id", "reason_code_id", "status"}
	thresholdColumns  = []string{"legal_entity", "scope", "original", "proposed"}
	reasonCodeColumns = []string{"reason_code_id", "high_level_code"}
)

// Directory is a session loader backed by files on disk.
type Directory struct {
	root   string
	parser parser
	logger zerolog.Logger
	now    func() time.Time
}

// NewDirectory returns a loader reading from root.
func NewDirectory(root string, logger zerolog.Logger) *Directory {
	logger = logger.With().Str("component", "ingest").Str("dir", root).Logger()
	return &Directory{
		root:   root,
		parser: newParser(logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load reads every file concurrently and freezes the result into a snapshot.
// Malformed trade lines are reported as rejections; exceptions failing
// validation are skipped with a warning; bad threshold or reason code rows fail
// the load.
func (d *Directory) Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error) {
	var (
		contents   records.Contents
		exceptions []records.Exception
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, _, err := d.open(Trades, ".csv")
		if err != nil {
			return err
		}
		defer f.Close()
		contents.Trades, contents.Rejected, err = d.parser.trades(gctx, f)
		return err
	})
	g.Go(func() error {
		f, _, err := d.open(Exceptions, ".csv")
		if errors.Is(err, ErrMissingFile) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()
		exceptions, err = d.parser.exceptions(gctx, f)
		return err
	})
	g.Go(func() error {
		f, enc, err := d.open(Thresholds, ".yaml", ".yml", ".csv")
		if err != nil {
			return err
		}
		defer f.Close()
		contents.Thresholds, err = d.parser.thresholds(gctx, f, enc)
		return err
	})
	g.Go(func() error {
		f, enc, err := d.open(ReasonCodes, ".yaml", ".yml", ".csv")
		if errors.Is(err, ErrMissingFile) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()
		contents.ReasonCodes, err = d.parser.reasonCodes(gctx, f, enc)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	contents.Exceptions = exceptionsInScope(exceptions, contents.Trades, filter)

	d.logger.Debug().
		Int("trades", len(contents.Trades)).
		Int("unparsed", len(contents.Rejected)).
		Int("exceptions", len(contents.Exceptions)).
		Int("thresholds", len(contents.Thresholds)).
		Int("reason_codes", len(contents.ReasonCodes)).
		Msg("files read")

	return records.NewSnapshot(contents, filter, d.now()), nil
}

// open returns the first of kind+ext that exists, with its encoding.
func (d *Directory) open(kind Kind, exts ...string) (*os.File, Encoding, error) {
	for _, ext := range exts {
		name := string(kind) + ext
		path := filepath.Join(d.root, name)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, CSV, fmt.Errorf("open %s: %w", path, err)
		}
		return f, EncodingOf(name), nil
	}
	return nil, CSV, fmt.Errorf("%w: %s in %s", ErrMissingFile, kind, d.root)
}
