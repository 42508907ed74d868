// Package service is the dashboard backend used by the CLI and the HTTP API.
// It runs simulations against the current session and projects the result.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/export"
	"fx-deviation-monitor/internal/ingest"
	"fx-deviation-monitor/internal/notify"
	"fx-deviation-monitor/internal/projection"
	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/session"
	"fx-deviation-monitor/internal/simulate"
	"fx-deviation-monitor/internal/threshold"
)

var (
	// ErrNotifierDisabled is returned by Notify when no notifier is configured.
	ErrNotifierDisabled = errors.New("service: notifier not configured")
	// ErrInvalidUpload wraps a parse or validation failure of an uploaded file.
	ErrInvalidUpload = errors.New("service: invalid upload")
)

// Override is one adjusted threshold edit.
type Override struct {
	Key   threshold.Key
	Value float64
}

func (o Override) String() string { return fmt.Sprintf("%s=%g", o.Key, o.Value) }

// ParseOverride reads ENTITY/SCOPE=VALUE.
func ParseOverride(s string) (Override, error) {
	rawKey, rawValue, ok := strings.Cut(s, "=")
	if !ok {
		return Override{}, fmt.Errorf("override %q: want ENTITY/SCOPE=VALUE", s)
	}
	key, err := threshold.ParseKey(rawKey)
	if err != nil {
		return Override{}, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
	if err != nil {
		return Override{}, fmt.Errorf("override %q: %w", s, err)
	}
	if err := threshold.ValidateValue(value); err != nil {
		return Override{}, fmt.Errorf("override %q: %w", s, err)
	}
	return Override{Key: key, Value: value}, nil
}

// Service orchestrates sessions, simulations and projections.
type Service struct {
	sessions *session.Manager
	uploads  *ingest.Batch
	runner   simulate.Runner
	opts     projection.Options
	exporter *export.Exporter
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the dashboard service. notifier may be nil.
func New(sessions *session.Manager, opts projection.Options, exporter *export.Exporter, notifier notify.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		sessions: sessions,
		uploads:  ingest.NewBatch(logger),
		opts:     opts,
		exporter: exporter,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Options returns the projection options in effect.
func (s *Service) Options() projection.Options { return s.opts }

// Start loads a snapshot for filter and opens a new session.
func (s *Service) Start(ctx context.Context, filter records.Filter) (*session.Session, error) {
	return s.sessions.Start(ctx, filter)
}

// Upload stages one uploaded file of the named kind for the next
// StartFromUploads.
func (s *Service) Upload(ctx context.Context, kind, name string, r io.Reader) (ingest.Staged, error) {
	k, err := ingest.ParseKind(kind)
	if err != nil {
		return ingest.Staged{}, err
	}
	st, err := s.uploads.Stage(ctx, k, name, r)
	if err != nil {
		if ctx.Err() != nil {
			return ingest.Staged{}, err
		}
		return ingest.Staged{}, fmt.Errorf("%w: %s %s: %w", ErrInvalidUpload, k, name, err)
	}
	return st, nil
}

// Uploads lists the staged files.
func (s *Service) Uploads() []ingest.Staged { return s.uploads.Staged() }

// StartFromUploads opens a session from the staged files. Trades and
// thresholds must both have been uploaded.
func (s *Service) StartFromUploads(ctx context.Context, filter records.Filter) (*session.Session, error) {
	return s.sessions.StartFrom(ctx, s.uploads, filter)
}

// Refresh reloads the current session; it matches scheduler.Job.
func (s *Service) Refresh(ctx context.Context, at time.Time) error {
	sess, err := s.sessions.Refresh(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Str("session", sess.ID).Time("tick", at).Int("trades", sess.Snapshot.TradeCount()).Msg("session refreshed")
	return nil
}

// Session returns the active session.
func (s *Service) Session() (*session.Session, error) {
	return s.sessions.Current()
}

// Simulate runs the column against the current session. A newer call
// supersedes one still in flight.
func (s *Service) Simulate(ctx context.Context, column threshold.Column) (simulate.Result, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return simulate.Result{}, err
	}
	return s.simulateSession(ctx, sess, column)
}

func (s *Service) simulateSession(ctx context.Context, sess *session.Session, column threshold.Column) (simulate.Result, error) {
	started := s.now()
	res, err := s.runner.Run(ctx, func(ctx context.Context) (simulate.Result, error) {
		return simulate.Simulate(ctx, sess.Snapshot.Trades(), sess.Engine, column, s.simulateOptions())
	})
	if err != nil {
		if errors.Is(err, simulate.ErrSuperseded) {
			s.logger.Debug().Str("column", string(column)).Msg("simulation superseded")
		}
		return simulate.Result{}, err
	}
	s.logger.Info().
		Str("session", sess.ID).
		Str("column", string(column)).
		Uint64("table_version", res.TableVersion).
		Int("alerts", len(res.Alerts)).
		Int("excluded", len(res.Exclusions)).
		Dur("took", s.now().Sub(started)).
		Msg("simulation completed")
	return res, nil
}

// Compare runs both columns against one table view and diffs the alert sets.
func (s *Service) Compare(ctx context.Context, from, to threshold.Column) (simulate.Comparison, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return simulate.Comparison{}, err
	}
	view := simulate.Fixed(sess.Engine.View())
	trades := sess.Snapshot.Trades()
	base, err := simulate.Simulate(ctx, trades, view, from, s.simulateOptions())
	if err != nil {
		return simulate.Comparison{}, err
	}
	other, err := simulate.Simulate(ctx, trades, view, to, s.simulateOptions())
	if err != nil {
		return simulate.Comparison{}, err
	}
	return simulate.Compare(base, other), nil
}

// Dashboard simulates the column and projects it. Every input comes from the
// one session current at the call, even if a refresh replaces it meanwhile.
func (s *Service) Dashboard(ctx context.Context, column threshold.Column) (projection.Dashboard, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return projection.Dashboard{}, err
	}
	res, err := s.simulateSession(ctx, sess, column)
	if err != nil {
		return projection.Dashboard{}, err
	}
	return projection.Build(projection.Input{
		TradeCount:  sess.Snapshot.TradeCount(),
		Simulation:  res,
		Exceptions:  sess.Snapshot.Exceptions(),
		ReasonCodes: sess.Snapshot,
	}, s.opts)
}

// ResultSet returns one named table of the column's dashboard.
func (s *Service) ResultSet(ctx context.Context, column threshold.Column, name string) (projection.ResultSet, error) {
	d, err := s.Dashboard(ctx, column)
	if err != nil {
		return projection.ResultSet{}, err
	}
	return d.ResultSet(name)
}

// Export encodes one named table of the column's dashboard.
func (s *Service) Export(ctx context.Context, column threshold.Column, name string, format export.Format) ([]byte, error) {
	rs, err := s.ResultSet(ctx, column, name)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(rs, format)
}

// Thresholds returns the current threshold table view.
func (s *Service) Thresholds() (*threshold.Table, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return nil, err
	}
	return sess.Engine.View(), nil
}

// UpdateThreshold sets one adjusted value.
func (s *Service) UpdateThreshold(key threshold.Key, value float64) (threshold.Entry, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return threshold.Entry{}, err
	}
	entry, err := sess.Engine.UpdateAdjusted(key, value)
	if err != nil {
		return threshold.Entry{}, err
	}
	s.logger.Info().Str("session", sess.ID).Str("key", key.String()).Float64("adjusted", value).Msg("threshold adjusted")
	return entry, nil
}

// ApplyOverrides applies edits in order and stops at the first invalid one.
// Edits before it stay applied.
func (s *Service) ApplyOverrides(overrides []Override) error {
	for _, o := range overrides {
		if _, err := s.UpdateThreshold(o.Key, o.Value); err != nil {
			return fmt.Errorf("override %s: %w", o, err)
		}
	}
	return nil
}

// ResetThresholds copies every proposed value back into adjusted and returns
// the number of rows that changed.
func (s *Service) ResetThresholds() (int, error) {
	sess, err := s.sessions.Current()
	if err != nil {
		return 0, err
	}
	n := sess.Engine.ResetAdjustedToProposed()
	s.logger.Info().Str("session", sess.ID).Int("changed", n).Msg("adjusted thresholds reset")
	return n, nil
}

// Notify sends a digest of a run.
func (s *Service) Notify(ctx context.Context, res simulate.Result, cmp *simulate.Comparison, overrides []Override) error {
	if s.notifier == nil {
		return ErrNotifierDisabled
	}
	digest := notify.Digest{Result: res, Comparison: cmp, RunAt: s.now()}
	if sess, err := s.sessions.Current(); err == nil {
		digest.SessionID = sess.ID
	}
	for _, o := range overrides {
		digest.Overrides = append(digest.Overrides, o.String())
	}
	return s.notifier.Notify(ctx, digest)
}

func (s *Service) simulateOptions() simulate.Options {
	return simulate.Options{
		Table:         s.opts.Groupwise,
		Currencies:    s.opts.Currencies,
		MaxCurrencies: s.opts.TopN,
	}
}
