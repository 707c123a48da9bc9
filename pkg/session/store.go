package session

import (
	"context"
	"sort"
	"sync"

	"estate-voice-server/pkg/errors"
)

// Store persists session records
type Store interface {
	Save(ctx context.Context, record *Record) error
	// Get returns an error matching errors.ErrSessionNotFound for unknown ids
	Get(ctx context.Context, sessionID string) (*Record, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]*Record, error)
	Health(ctx context.Context) error
	Close() error
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save stores a copy of record
func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	if record == nil || record.SessionID == "" {
		return errors.NewInvalidInput("session record requires a session id")
	}
	m.mutex.Lock()
	m.records[record.SessionID] = record.clone()
	m.mutex.Unlock()
	return nil
}

// Get returns a copy of the stored record
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, ok := m.records[sessionID]
	if !ok {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return record.clone(), nil
}

// Delete removes a record; unknown ids are ignored
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mutex.Lock()
	delete(m.records, sessionID)
	m.mutex.Unlock()
	return nil
}

// List returns copies of all records ordered by session id
func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Health always succeeds
func (m *MemoryStore) Health(context.Context) error { return nil }

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }
