package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/usecase"
)

// SessionCleanupService evicts idle live sessions and expires stored ones
type SessionCleanupService struct {
	emotions    *usecase.EmotionService
	sessionRepo repositories.SessionRepository
	idleTimeout time.Duration
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service
func NewSessionCleanupService(
	emotions *usecase.EmotionService,
	sessionRepo repositories.SessionRepository,
	idleTimeout, interval time.Duration,
	logger *zap.Logger,
) *SessionCleanupService {
	return &SessionCleanupService{
		emotions:    emotions,
		sessionRepo: sessionRepo,
		idleTimeout: idleTimeout,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup closes sessions idle longer than idleTimeout, then marks stored
// records past their retention as expired.
func (s *SessionCleanupService) runCleanup() (evicted int, expired int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	evicted = s.emotions.EvictIdle(ctx, s.idleTimeout)

	expired, err := s.sessionRepo.ExpireSessions(ctx)
	if err != nil {
		s.logger.Error("Failed to expire sessions", zap.Error(err))
		return evicted, 0
	}

	if evicted > 0 || expired > 0 {
		s.logger.Info("Session cleanup completed",
			zap.Int("evicted", evicted),
			zap.Int64("expired", expired))
	}
	return evicted, expired
}
