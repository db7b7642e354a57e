package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status reports the manager's view of the sync loop for the status
// endpoint.
type Status struct {
	Syncing   bool      `json:"syncing"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
}

// Manager serializes reconciliation passes. Two concurrent invocations of
// the engine could race to advance the cursor and overwrite a newer
// watermark with a stale one, so every pass (HTTP-triggered or timer-
// triggered) goes through the same lock.
type Manager struct {
	engine   *Engine
	log      zerolog.Logger
	interval time.Duration

	mu sync.Mutex // held for the duration of a pass

	stateMu sync.Mutex
	syncing bool
	lastRun time.Time
	lastErr error
}

// NewManager creates a manager. A non-positive interval disables the
// background loop; on-demand passes still work.
func NewManager(engine *Engine, log zerolog.Logger, interval time.Duration) *Manager {
	return &Manager{
		engine:   engine,
		log:      log.With().Str("component", "sync_manager").Logger(),
		interval: interval,
	}
}

// Sync runs one pass, waiting for any in-flight pass to finish first.
func (m *Manager) Sync(ctx context.Context, limit int) (*Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setSyncing(true)
	delta, err := m.engine.Sync(ctx, limit)
	m.finish(err)

	return delta, err
}

// Run executes periodic passes until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("background sync started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("background sync stopped")
			return
		case <-ticker.C:
			delta, err := m.Sync(ctx, 0)
			if err != nil {
				m.log.Error().Err(err).Msg("background sync pass failed")
				continue
			}
			if delta.TotalNew > 0 {
				m.log.Info().Int("new", delta.TotalNew).Str("cursor", delta.Cursor).Msg("background sync pass")
			}
		}
	}
}

// Status returns the current sync state.
func (m *Manager) Status() Status {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	s := Status{Syncing: m.syncing, LastRun: m.lastRun}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) setSyncing(v bool) {
	m.stateMu.Lock()
	m.syncing = v
	m.stateMu.Unlock()
}

func (m *Manager) finish(err error) {
	m.stateMu.Lock()
	m.syncing = false
	m.lastRun = time.Now()
	m.lastErr = err
	m.stateMu.Unlock()
}
