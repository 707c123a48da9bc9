package session

import (
	"context"
	"sync"
	"time"

	"estate-voice-server/pkg/conversation"
	"estate-voice-server/pkg/errors"
	"estate-voice-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// ManagerConfig holds session manager configuration
type ManagerConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// Turns answered within this count as successes
	LatencyTarget time.Duration
	// 0 keeps every objection
	MaxObjections int
}

// DefaultManagerConfig returns the production defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
		LatencyTarget: 2 * time.Second,
	}
}

// EndHook is called once when a session ends, explicitly or by idling out
type EndHook func(ctx context.Context, snapshot conversation.Snapshot, record Record)

// Session is one live conversation. Chunks of a session must be processed
// one at a time: hold Lock for the whole chunk.
type Session struct {
	ID       string
	TenantID string
	Context  *conversation.Context

	// guarded by turn
	turn  sync.Mutex
	ended bool

	mutex  sync.Mutex
	record *Record
}

// Lock serializes chunk processing for the session
func (s *Session) Lock() { s.turn.Lock() }

// Unlock releases the session after a chunk
func (s *Session) Unlock() { s.turn.Unlock() }

// Record returns a copy of the live record
func (s *Session) Record() Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return *s.record.clone()
}

func (s *Session) lastActivity() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.record.LastActivity
}

// Manager owns the live sessions of this process and mirrors their records
// into a Store
type Manager struct {
	logger *logrus.Entry
	store  Store
	config ManagerConfig
	onEnd  EndHook
	now    func() time.Time

	mutex    sync.RWMutex
	sessions map[string]*Session

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager. Call Start to enable idle sweeping.
func NewManager(logger *logrus.Logger, store Store, config ManagerConfig) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if config.LatencyTarget <= 0 {
		config.LatencyTarget = DefaultManagerConfig().LatencyTarget
	}

	return &Manager{
		logger:   logger.WithField("component", "session_manager"),
		store:    store,
		config:   config,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stopChan: make(chan struct{}),
	}
}

// SetEndHook registers the end-of-session callback
func (m *Manager) SetEndHook(hook EndHook) {
	m.mutex.Lock()
	m.onEnd = hook
	m.mutex.Unlock()
}

// GetOrCreate returns the live session, creating it on first use. created
// reports whether this call created it. A live session owned by another
// tenant is reported as not found.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, tenantID, agentID string) (sess *Session, created bool, err error) {
	m.mutex.RLock()
	sess, ok := m.sessions[sessionID]
	m.mutex.RUnlock()
	if ok {
		return m.owned(sess, tenantID)
	}

	m.mutex.Lock()
	if sess, ok = m.sessions[sessionID]; ok {
		m.mutex.Unlock()
		return m.owned(sess, tenantID)
	}

	now := m.now()
	sess = &Session{
		ID:       sessionID,
		TenantID: tenantID,
		Context: conversation.New(sessionID,
			conversation.WithIdentity(tenantID, agentID),
			conversation.WithMaxObjections(m.config.MaxObjections),
		),
		record: &Record{
			SessionID:    sessionID,
			TenantID:     tenantID,
			AgentID:      agentID,
			StartedAt:    now,
			LastActivity: now,
		},
	}
	m.sessions[sessionID] = sess
	m.mutex.Unlock()

	metrics.SessionStarted()
	m.persist(ctx, sess.Record())

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"tenant_id":  tenantID,
		"agent_id":   agentID,
	}).Info("Session created")

	return sess, true, nil
}

func (m *Manager) owned(sess *Session, tenantID string) (*Session, bool, error) {
	if sess.TenantID != tenantID {
		m.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"tenant_id":  tenantID,
		}).Warn("Rejected access to session of another tenant")
		return nil, false, errors.NewSessionNotFound(sess.ID)
	}
	return sess, false, nil
}

// Acquire returns the live session locked for one turn, creating it on
// first use. The caller must Unlock it. A session ended while the caller
// waited for the lock is replaced by a fresh one.
func (m *Manager) Acquire(ctx context.Context, sessionID, tenantID, agentID string) (*Session, bool, error) {
	for {
		sess, created, err := m.GetOrCreate(ctx, sessionID, tenantID, agentID)
		if err != nil {
			return nil, false, err
		}
		sess.Lock()
		if !sess.ended {
			return sess, created, nil
		}
		sess.Unlock()
	}
}

// Get returns a live session
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Lookup returns a live session of tenantID
func (m *Manager) Lookup(sessionID, tenantID string) (*Session, bool) {
	sess, ok := m.Get(sessionID)
	if !ok || sess.TenantID != tenantID {
		return nil, false
	}
	return sess, true
}

// RecordChunk folds a chunk outcome into the session record and persists it.
// Store failures are logged, never returned.
func (m *Manager) RecordChunk(ctx context.Context, sess *Session, outcome ChunkOutcome) Record {
	sess.mutex.Lock()
	sess.record.Apply(outcome, m.config.LatencyTarget, m.now())
	snapshot := *sess.record.clone()
	sess.mutex.Unlock()

	m.persist(ctx, snapshot)
	return snapshot
}

// Record returns the stored record of a live or ended session of tenantID
func (m *Manager) Record(ctx context.Context, sessionID, tenantID string) (*Record, error) {
	if sess, ok := m.Lookup(sessionID, tenantID); ok {
		record := sess.Record()
		return &record, nil
	}
	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.TenantID != tenantID {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return record, nil
}

// End closes a live session of tenantID, waiting for an in-flight turn to
// finish. The record stays in the store until its TTL.
func (m *Manager) End(ctx context.Context, sessionID, tenantID string) error {
	m.mutex.Lock()
	sess, ok := m.sessions[sessionID]
	if ok && sess.TenantID != tenantID {
		ok = false
	}
	if ok {
		delete(m.sessions, sessionID)
	}
	hook := m.onEnd
	m.mutex.Unlock()

	if !ok {
		return errors.NewSessionNotFound(sessionID)
	}

	m.finish(ctx, sess, hook, "ended")
	return nil
}

// finish runs for sessions already removed from the map
func (m *Manager) finish(ctx context.Context, sess *Session, hook EndHook, reason string) {
	sess.Lock()
	defer sess.Unlock()
	sess.ended = true

	now := m.now()
	sess.mutex.Lock()
	sess.record.EndedAt = &now
	record := *sess.record.clone()
	sess.mutex.Unlock()

	metrics.SessionEnded()
	m.persist(ctx, record)

	if hook != nil {
		hook(ctx, sess.Context.Snapshot(), record)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"reason":     reason,
		"turns":      record.TurnCount,
		"success":    record.SuccessCount,
	}).Info("Session closed")
}

func (m *Manager) persist(ctx context.Context, record Record) {
	if err := m.store.Save(ctx, &record); err != nil {
		m.logger.WithError(err).WithField("session_id", record.SessionID).Warn("Failed to persist session record")
	}
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Health checks the backing store
func (m *Manager) Health(ctx context.Context) error {
	return m.store.Health(ctx)
}

// Start launches the idle sweeper
func (m *Manager) Start() {
	if m.config.IdleTimeout <= 0 || m.config.SweepInterval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.SweepIdle(context.Background())
			case <-m.stopChan:
				return
			}
		}
	}()
}

// SweepIdle ends sessions idle for longer than the idle timeout and
// returns how many were ended
func (m *Manager) SweepIdle(ctx context.Context) int {
	threshold := m.now().Add(-m.config.IdleTimeout)

	m.mutex.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.lastActivity().Before(threshold) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	hook := m.onEnd
	m.mutex.Unlock()

	for _, sess := range idle {
		m.finish(ctx, sess, hook, "idle")
	}
	if len(idle) > 0 {
		m.logger.WithField("count", len(idle)).Info("Swept idle sessions")
	}
	return len(idle)
}

// Shutdown stops the sweeper, ends every live session and closes the store
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	m.mutex.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		live = append(live, sess)
		delete(m.sessions, id)
	}
	hook := m.onEnd
	m.mutex.Unlock()

	for _, sess := range live {
		m.finish(ctx, sess, hook, "shutdown")
	}

	m.logger.Info("Session manager shutdown complete")
	return m.store.Close()
}
