// Package session ties one loaded snapshot to its threshold engine. A session
// starts with a load and ends when a refresh replaces it or the manager closes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fx-deviation-monitor/internal/records"
	"fx-deviation-monitor/internal/threshold"
)

// ErrNoSession is returned when no session has been started or it was closed.
var ErrNoSession = errors.New("session: no active session")

// Loader returns the record collections for a filter selection.
type Loader interface {
	Load(ctx context.Context, filter records.Filter) (*records.Snapshot, error)
}

// Session is the explicit per-analyst state: an immutable snapshot plus the
// mutable threshold table built from it.
type Session struct {
	ID        string
	StartedAt time.Time
	Snapshot  *records.Snapshot
	Engine    *threshold.Engine

	source Loader
}

// Manager owns the current session.
type Manager struct {
	loader Loader
	groups map[string]string
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current *Session
}

// NewManager constructs a manager. groups maps currencies to threshold groups.
func NewManager(loader Loader, groups map[string]string, logger zerolog.Logger) *Manager {
	return &Manager{
		loader: loader,
		groups: groups,
		logger: logger.With().Str("component", "session").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start loads a snapshot from the configured source and replaces any current
// session with a new one.
func (m *Manager) Start(ctx context.Context, filter records.Filter) (*Session, error) {
	return m.StartFrom(ctx, m.loader, filter)
}

// StartFrom is Start with an explicit source. Refreshing the session reloads
// from the same source.
func (m *Manager) StartFrom(ctx context.Context, loader Loader, filter records.Filter) (*Session, error) {
	snap, err := loader.Load(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	engine, err := threshold.NewEngine(snap.Thresholds(), m.groups)
	if err != nil {
		return nil, fmt.Errorf("build threshold table: %w", err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: m.now(),
		Snapshot:  snap,
		Engine:    engine,
		source:    loader,
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info().Str("session", prev.ID).Msg("session torn down")
	}
	for _, r := range snap.Rejected() {
		m.logger.Warn().Str("session", s.ID).Str("trade_id", r.TradeID).Err(r.Err).Msg("trade rejected at load")
	}
	m.logger.Info().
		Str("session", s.ID).
		Int("trades", snap.TradeCount()).
		Int("rejected", len(snap.Rejected())).
		Int("exceptions", len(snap.Exceptions())).
		Int("thresholds", engine.View().Len()).
		Msg("session started")
	return s, nil
}

// Refresh reloads with the current session's source and filter. Without a
// session it fails with ErrNoSession.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	cur, err := m.Current()
	if err != nil {
		return nil, err
	}
	return m.StartFrom(ctx, cur.source, cur.Snapshot.Filter())
}

// Current returns the active session.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Close tears the current session down.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		m.logger.Info().Str("session", prev.ID).Msg("session closed")
	}
}
