package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

// Requires a running MongoDB instance (skipped if MONGODB_URI is not set)
func TestSessionRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	client, err := NewClient(ctx, Config{URI: mongoURI, Database: "emora_test"}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		_ = client.Database.Drop(ctx)
		_ = client.Close(ctx)
	}()

	repo := NewSessionRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		session := entities.NewSession("sess-001", "ana", time.Hour)
		session.RecordEmotion(entities.EmotionSample{Raw: entities.EmotionSad, Confidence: 0.8, Stable: entities.EmotionSad})

		if err := repo.Save(ctx, session); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "sess-001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.ClientName != "ana" || len(got.Emotions) != 1 || got.Summary.Recent != entities.EmotionSad {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		session := entities.NewSession("sess-002", "ana", time.Hour)
		if err := repo.Save(ctx, session); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		session.AddMessage(entities.MessageRoleUser, "hello", entities.EmotionHappy)
		if err := repo.Save(ctx, session); err != nil {
			t.Fatalf("second Save() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "sess-002")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if len(got.Messages) != 1 || got.LastMessageAt == nil {
			t.Errorf("expected one message, got %+v", got.Messages)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, repositories.ErrSessionNotFound) {
			t.Errorf("GetByID() error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("ListByClient", func(t *testing.T) {
		sessions, err := repo.ListByClient(ctx, "ana", 1)
		if err != nil {
			t.Fatalf("ListByClient() error = %v", err)
		}
		if len(sessions) != 1 {
			t.Errorf("expected 1 session, got %d", len(sessions))
		}
	})

	t.Run("ExpireSessions", func(t *testing.T) {
		session := entities.NewSession("sess-003", "ben", time.Hour)
		session.ExpiresAt = time.Now().Add(-time.Hour)
		if err := repo.Save(ctx, session); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		n, err := repo.ExpireSessions(ctx)
		if err != nil {
			t.Fatalf("ExpireSessions() error = %v", err)
		}
		if n < 1 {
			t.Errorf("expected at least one expired session, got %d", n)
		}

		got, err := repo.GetByID(ctx, "sess-003")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != entities.SessionStatusExpired {
			t.Errorf("status = %s, want %s", got.Status, entities.SessionStatusExpired)
		}
	})
}

func TestSessionRepository_SaveValidates(t *testing.T) {
	repo := &SessionRepository{logger: zaptest.NewLogger(t)}

	if err := repo.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) should fail")
	}
	if err := repo.Save(context.Background(), &entities.Session{Status: entities.SessionStatusActive}); err == nil {
		t.Error("Save() without id should fail")
	}
}
