package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/emora/domain/entities"
)

// ErrSessionNotFound is returned when a session record does not exist
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines data access methods for session records
type SessionRepository interface {
	// Save inserts or replaces the record
	Save(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	// ListByClient returns the newest records of a client first
	ListByClient(ctx context.Context, clientName string, limit int) ([]*entities.Session, error)
	// ExpireSessions marks active records past their expiry as expired
	ExpireSessions(ctx context.Context) (int64, error)
}
