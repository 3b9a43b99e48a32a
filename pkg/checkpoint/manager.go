package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/store"
)

// Store is the subset of store.AsyncStore the Manager needs, narrowed so
// tests can fake it without standing up a real backend.
type Store interface {
	PutCheckpointAsync(ctx context.Context, threadID string, data []byte) error
	GetCheckpointTuple(ctx context.Context, threadID string) ([]byte, bool, error)
}

var _ Store = (*store.AsyncStore)(nil)

// Manager orchestrates checkpoint creation and recovery for a case.
type Manager struct {
	config *Config
	store  Store

	mu        sync.Mutex
	lastSaved map[string]time.Time // per-case last checkpoint time, for interval triggers
}

// NewManager creates a Manager backed by the given store.
func NewManager(cfg *Config, s Store) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	return &Manager{config: cfg, store: s, lastSaved: make(map[string]time.Time)}
}

// IsEnabled reports whether checkpointing is turned on.
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

// Save persists a checkpoint of s asynchronously and records the save time
// for future interval-trigger decisions.
func (m *Manager) Save(ctx context.Context, s *state.AnalysisState, t Type) error {
	if !m.IsEnabled() {
		return nil
	}

	cp := New(s, t)
	data, err := cp.Serialize()
	if err != nil {
		return fmt.Errorf("checkpoint: serialize: %w", err)
	}

	if err := m.store.PutCheckpointAsync(ctx, cp.ThreadID, data); err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	m.mu.Lock()
	m.lastSaved[s.CaseID] = time.Now()
	m.mu.Unlock()

	slog.Debug("checkpoint saved", "case_id", s.CaseID, "type", t, "thread_id", cp.ThreadID)
	return nil
}

// Load retrieves the latest checkpoint for a case, if one exists and has
// not expired under the configured recovery timeout.
func (m *Manager) Load(ctx context.Context, caseID string) (*state.AnalysisState, bool, error) {
	threadID := state.ThreadID(caseID)
	data, found, err := m.store.GetCheckpointTuple(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	cp, err := Deserialize(data)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: deserialize: %w", err)
	}
	if m.config.RecoveryTimeout() > 0 && time.Since(cp.CreatedAt) > m.config.RecoveryTimeout() {
		slog.Warn("checkpoint expired, not recovering", "case_id", caseID, "age", time.Since(cp.CreatedAt))
		return nil, false, nil
	}

	return cp.State, true, nil
}

// ShouldCheckpointInterval reports whether a periodic checkpoint is due for
// caseID, based on the time recorded by the last Save call (or run start,
// tracked by the caller via sinceLast for the very first check).
func (m *Manager) ShouldCheckpointInterval(caseID string, fallbackSinceLast time.Duration) bool {
	m.mu.Lock()
	last, ok := m.lastSaved[caseID]
	m.mu.Unlock()

	sinceLast := fallbackSinceLast
	if ok {
		sinceLast = time.Since(last)
	}
	return m.config.ShouldCheckpointInterval(sinceLast)
}

// IsLongOperation reports whether a step that ran for elapsed warrants a
// long-operation checkpoint once it returns.
func (m *Manager) IsLongOperation(elapsed time.Duration) bool {
	return m.config.IsLongOperation(elapsed)
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}
