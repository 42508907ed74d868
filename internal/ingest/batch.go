package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/records"
)

// ErrIncompleteBatch is returned by Batch.Load before trades and thresholds
// have both been staged.
var ErrIncompleteBatch = errors.New("ingest: upload batch incomplete")

// Staged summarises one accepted upload.
type Staged struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Rows     int    `json:"rows"`
	Rejected int    `json:"rejected"`
}

// Batch collects uploaded files one collection at a time and serves them as a
// session loader. A new upload of a kind replaces the previous one; a failed
// upload leaves the batch untouched.
type Batch struct {
	parser parser
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	staged     map[Kind]Staged
	trades     []records.Trade
	rejected   []records.Rejection
	exceptions []records.Exception
	thresholds []records.ThresholdEntry
	reasons    []records.ReasonCodeMapping
}

// NewBatch returns an empty upload batch.
func NewBatch(logger zerolog.Logger) *Batch {
	logger = logger.With().Str("component", "ingest").Str("source", "upload").Logger()
	return &Batch{
		parser: newParser(logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		staged: make(map[Kind]Staged),
	}
}

// Stage parses one uploaded file. name is the client file name; its extension
// picks CSV or YAML for thresholds and reason codes.
func (b *Batch) Stage(ctx context.Context, kind Kind, name string, r io.Reader) (Staged, error) {
	st := Staged{Kind: kind, Name: name}
	enc := EncodingOf(name)

	var apply func()
	switch kind {
	case Trades:
		trades, rejected, err := b.parser.trades(ctx, r)
		if err != nil {
			return st, err
		}
		st.Rows, st.Rejected = len(trades), len(rejected)
		apply = func() { b.trades, b.rejected = trades, rejected }
	case Exceptions:
		exceptions, err := b.parser.exceptions(ctx, r)
		if err != nil {
			return st, err
		}
		st.Rows = len(exceptions)
		apply = func() { b.exceptions = exceptions }
	case Thresholds:
		entries, err := b.parser.thresholds(ctx, r, enc)
		if err != nil {
			return st, err
		}
		st.Rows = len(entries)
		apply = func() { b.thresholds = entries }
	case ReasonCodes:
		codes, err := b.parser.reasonCodes(ctx, r, enc)
		if err != nil {
			return st, err
		}
		st.Rows = len(codes)
		apply = func() { b.reasons = codes }
	default:
		return st, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	b.mu.Lock()
	apply()
	b.staged[kind] = st
	b.mu.Unlock()

	b.logger.Info().Str("kind", string(kind)).Str("name", name).Int("rows", st.Rows).Int("rejected", st.Rejected).Msg("upload staged")
	return st, nil
}

// Staged lists the accepted uploads in collection order.
func (b *Batch) Staged() []Staged {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Staged, 0, len(b.staged))
	for _, k := range []Kind{Trades, Exceptions, Thresholds, ReasonCodes} {
		if st, ok := b.staged[k]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Load builds a snapshot from the staged uploads. The snapshot copies what it
// keeps, so later uploads do not reach an existing session.
func (b *Batch) Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, k := range []Kind{Trades, Thresholds} {
		if _, ok := b.staged[k]; !ok {
			return nil, fmt.Errorf("%w: %s not uploaded", ErrIncompleteBatch, k)
		}
	}
	contents := records.Contents{
		Trades:      b.trades,
		Rejected:    b.rejected,
		Exceptions:  exceptionsInScope(b.exceptions, b.trades, filter),
		Thresholds:  b.thresholds,
		ReasonCodes: b.reasons,
	}
	return records.NewSnapshot(contents, filter, b.now()), nil
}
