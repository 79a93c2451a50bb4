package repositories

import (
	"context"

	"github.com/satriahrh/emora/domain/entities"
)

// ReplyGenerator abstracts any chat/LLM provider that writes supportive replies
type ReplyGenerator interface {
	Name() string
	GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error)
}

// ReplyRequest carries everything a generator may use
type ReplyRequest struct {
	Name     string
	Emotion  entities.Emotion
	Messages []ChatMessage
}

// LastUserMessage returns the newest user message content
func (r ReplyRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == UserRole {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Reply is the generator output
type Reply struct {
	Reply          string         `json:"reply"`
	Recommendation Recommendation `json:"recommendation"`
}

// FallbackReplyText is what the user hears when no provider produced a reply
const FallbackReplyText = "I'm having a bit of trouble thinking right now, but I'm here for you."

// FallbackReply is the reply used when generation fails
func FallbackReply() Reply {
	return Reply{Reply: FallbackReplyText, Recommendation: Recommendation{Type: RecommendationNone}}
}

// Recommendation suggests something for the user to do
type Recommendation struct {
	Type  RecommendationType `json:"type"`
	Query string             `json:"query"`
}

// RecommendationType is the closed set of recommendation kinds
type RecommendationType string

const (
	RecommendationSong  RecommendationType = "song"
	RecommendationVideo RecommendationType = "video"
	RecommendationGame  RecommendationType = "game"
	RecommendationNone  RecommendationType = "none"
)

// NormalizeRecommendationType maps unknown kinds to none
func NormalizeRecommendationType(t string) RecommendationType {
	switch RecommendationType(t) {
	case RecommendationSong, RecommendationVideo, RecommendationGame:
		return RecommendationType(t)
	}
	return RecommendationNone
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
