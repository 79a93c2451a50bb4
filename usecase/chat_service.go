package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/pkg/metrics"
)

// ChatRequest is one reply request from a client
type ChatRequest struct {
	SessionID string
	Name      string
	// Emotion overrides the session's stabilized label when it names a known emotion
	Emotion  string
	Messages []repositories.ChatMessage
}

// ChatService turns a conversation plus the current emotion into a reply
type ChatService struct {
	generator    repositories.ReplyGenerator
	sessions     *SessionRegistry
	timeout      time.Duration
	historyLimit int
	logger       *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(generator repositories.ReplyGenerator, sessions *SessionRegistry, timeout time.Duration, historyLimit int, logger *zap.Logger) *ChatService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChatService{
		generator:    generator,
		sessions:     sessions,
		timeout:      timeout,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Reply never fails; generator errors yield the fallback reply
func (s *ChatService) Reply(ctx context.Context, req ChatRequest) repositories.Reply {
	var live *LiveSession
	if req.SessionID != "" && s.sessions != nil {
		live, _ = s.sessions.Get(req.SessionID)
	}

	current := s.resolveEmotion(req.Emotion, live)

	messages := req.Messages
	if s.historyLimit > 0 && len(messages) > s.historyLimit {
		messages = messages[len(messages)-s.historyLimit:]
	}
	genReq := repositories.ReplyRequest{
		Name:     req.Name,
		Emotion:  current,
		Messages: messages,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.generator.GenerateReply(ctx, genReq)
	if err != nil {
		s.logger.Error("Reply generation failed",
			zap.String("provider", s.generator.Name()),
			zap.String("sessionID", req.SessionID),
			zap.Error(err))
		metrics.RecordReply(s.generator.Name(), "error")
		reply = repositories.FallbackReply()
	}
	if strings.TrimSpace(reply.Reply) == "" {
		reply = repositories.FallbackReply()
	}
	reply.Recommendation.Type = repositories.NormalizeRecommendationType(string(reply.Recommendation.Type))

	if live != nil {
		if text := genReq.LastUserMessage(); text != "" {
			live.AddMessage(entities.MessageRoleUser, text, current)
		}
		live.AddMessage(entities.MessageRoleAssistant, reply.Reply, current)
	}

	s.logger.Debug("Reply generated",
		zap.String("provider", s.generator.Name()),
		zap.String("emotion", current.String()),
		zap.String("recommendation", string(reply.Recommendation.Type)))
	return reply
}

func (s *ChatService) resolveEmotion(requested string, live *LiveSession) entities.Emotion {
	if e := entities.Emotion(strings.ToLower(strings.TrimSpace(requested))); e.Valid() {
		return e
	}
	if live != nil {
		return live.Recent()
	}
	return entities.EmotionNeutral
}
