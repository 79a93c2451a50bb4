package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

// MemorySessionRepository keeps session records in process memory. Used when
// no MongoDB is configured.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.Session
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates an empty in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entities.Session),
	}
}

// Save stores a copy of the session, replacing any previous version
func (m *MemorySessionRepository) Save(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemorySessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, repositories.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *MemorySessionRepository) ListByClient(ctx context.Context, clientName string, limit int) ([]*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*entities.Session, 0)
	for _, s := range m.sessions {
		if s.ClientName == clientName {
			sessions = append(sessions, s.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (m *MemorySessionRepository) ExpireSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired int64
	for _, s := range m.sessions {
		if s.Status == entities.SessionStatusActive && s.IsExpired() {
			s.Expire()
			expired++
		}
	}
	return expired, nil
}

// Count returns the number of stored records
func (m *MemorySessionRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
