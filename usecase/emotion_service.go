package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/dispatch"
	"github.com/satriahrh/emora/internal/emotion"
	"github.com/satriahrh/emora/pkg/metrics"
)

const publishTimeout = 2 * time.Second

// FrameResult is the outcome of one frame
type FrameResult struct {
	Raw        entities.Emotion
	Confidence float64
	Strategy   string
	Gated      entities.Emotion
	Stable     entities.Emotion
	// Proactive is set when the frame completed a streak worth talking about
	Proactive entities.Emotion
}

// NeutralResult is returned whenever a frame could not be processed
func NeutralResult() FrameResult {
	return FrameResult{
		Raw:    entities.EmotionNeutral,
		Gated:  entities.EmotionNeutral,
		Stable: entities.EmotionNeutral,
	}
}

// EmotionService runs frames through decode, classify, gate and smooth on
// the dispatcher, one session at a time
type EmotionService struct {
	decoder    *emotion.Decoder
	chain      *emotion.Chain
	gate       emotion.Gate
	sessions   *SessionRegistry
	dispatcher *dispatch.Dispatcher
	repo       repositories.SessionRepository
	publisher  repositories.EmotionPublisher
	logger     *zap.Logger
}

func NewEmotionService(
	decoder *emotion.Decoder,
	chain *emotion.Chain,
	gate emotion.Gate,
	sessions *SessionRegistry,
	dispatcher *dispatch.Dispatcher,
	repo repositories.SessionRepository,
	publisher repositories.EmotionPublisher,
	logger *zap.Logger,
) *EmotionService {
	if publisher == nil {
		publisher = repositories.NopPublisher{}
	}
	return &EmotionService{
		decoder:    decoder,
		chain:      chain,
		gate:       gate,
		sessions:   sessions,
		dispatcher: dispatcher,
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
	}
}

// Sessions exposes the live session registry
func (s *EmotionService) Sessions() *SessionRegistry {
	return s.sessions
}

// Submit queues a frame without blocking. onResult runs on a worker, in
// submission order per session, and is skipped once ctx is done or the
// session is closed.
func (s *EmotionService) Submit(ctx context.Context, sessionID, name, image string, onResult func(FrameResult)) error {
	live, _ := s.sessions.Open(sessionID, name)

	_, err := s.dispatcher.Submit(ctx, sessionID, func(ctx context.Context) {
		if live.Closed() {
			return
		}
		result := s.process(ctx, live, image)
		if ctx.Err() != nil || live.Closed() {
			s.logger.Debug("Dropping result for closed session", zap.String("sessionID", sessionID))
			return
		}
		onResult(result)
	})
	if err != nil {
		return fmt.Errorf("failed to queue frame: %w", err)
	}
	return nil
}

// Detect processes a frame and waits for its result. It never fails: any
// problem yields neutral.
func (s *EmotionService) Detect(ctx context.Context, sessionID, name, image string) FrameResult {
	live, _ := s.sessions.Open(sessionID, name)

	result, err := dispatch.Do(ctx, s.dispatcher, sessionID, func(ctx context.Context) FrameResult {
		return s.process(ctx, live, image)
	})
	if err != nil {
		s.logger.Warn("Frame not processed", zap.String("sessionID", sessionID), zap.Error(err))
		return NeutralResult()
	}
	return result
}

// process is the per-frame pipeline. Panics are turned into neutral.
func (s *EmotionService) process(ctx context.Context, live *LiveSession, image string) (result FrameResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Frame pipeline panicked",
				zap.String("sessionID", live.ID),
				zap.Any("panic", r))
			result = NeutralResult()
		}
	}()

	var detection entities.Detection
	frame, err := s.decoder.Decode(image)
	if err != nil {
		metrics.RecordDecodeFailure()
		s.logger.Debug("Invalid frame", zap.String("sessionID", live.ID), zap.Error(err))
		detection = entities.NeutralDetection()
	} else {
		detection = s.chain.Classify(ctx, frame)
	}

	gated := s.gate.Apply(detection)
	obs := live.observe(detection, gated)

	strategy := detection.Strategy
	if strategy == "" {
		strategy = "none"
	}
	metrics.RecordFrame(strategy, time.Since(start))
	metrics.RecordStabilized(obs.Stable.String())

	if obs.Stable != obs.Previous {
		s.publish(ctx, entities.EmotionEvent{
			SessionID:  live.ID,
			Emotion:    obs.Stable,
			Previous:   obs.Previous,
			Raw:        detection.Label,
			Confidence: detection.Confidence,
			Strategy:   detection.Strategy,
			Timestamp:  time.Now(),
		})
	}
	if obs.Proactive != "" {
		metrics.RecordProactive(obs.Proactive.String())
	}

	return FrameResult{
		Raw:        detection.Label,
		Confidence: detection.Confidence,
		Strategy:   detection.Strategy,
		Gated:      gated,
		Stable:     obs.Stable,
		Proactive:  obs.Proactive,
	}
}

func (s *EmotionService) publish(ctx context.Context, event entities.EmotionEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish emotion event",
			zap.String("sessionID", event.SessionID),
			zap.Error(err))
	}
}

// Close ends a session and persists its record. Frames still queued for it
// are discarded.
func (s *EmotionService) Close(ctx context.Context, sessionID string) error {
	record, ok := s.sessions.Close(sessionID)
	if !ok {
		return nil
	}
	s.logger.Info("Session closed",
		zap.String("sessionID", sessionID),
		zap.String("dominant", record.Summary.Dominant.String()),
		zap.Int("frames", record.Summary.Frames))
	return s.persist(ctx, record)
}

// EvictIdle closes sessions idle for longer than idle and persists them
func (s *EmotionService) EvictIdle(ctx context.Context, idle time.Duration) int {
	records := s.sessions.EvictIdle(idle)
	for _, record := range records {
		if err := s.persist(ctx, record); err != nil {
			s.logger.Error("Failed to persist evicted session", zap.String("sessionID", record.ID), zap.Error(err))
		}
	}
	return len(records)
}

// CloseAll persists every live session, used on shutdown
func (s *EmotionService) CloseAll(ctx context.Context) error {
	var errs []error
	for _, record := range s.sessions.CloseAll() {
		if err := s.persist(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *EmotionService) persist(ctx context.Context, record *entities.Session) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", record.ID, err)
	}
	return nil
}

// Session returns the live view of a session, or the stored record
func (s *EmotionService) Session(ctx context.Context, id string) (*entities.Session, error) {
	if live, ok := s.sessions.Get(id); ok {
		return live.Snapshot(), nil
	}
	if s.repo == nil {
		return nil, repositories.ErrSessionNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// ClassifierStatus reports which strategies are usable
func (s *EmotionService) ClassifierStatus() []emotion.StrategyStatus {
	return s.chain.Status()
}
