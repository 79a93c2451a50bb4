package api

import (
	"time"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/emotion"
)

// EmotionRequest is the body of POST /emotion
type EmotionRequest struct {
	// Image is nil when the field is absent. An empty string is a frame that
	// fails to decode.
	Image *string `json:"image"`
	SessionID string `json:"session_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// EmotionResponse carries the stabilized label for one frame
type EmotionResponse struct {
	Emotion entities.Emotion `json:"emotion"`
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	SessionID string                     `json:"session_id,omitempty"`
	Name      string                     `json:"name"`
	Emotion   string                     `json:"emotion,omitempty"`
	Messages  []repositories.ChatMessage `json:"messages"`
}

// CreateSessionRequest represents the request payload for opening a session
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// CreateSessionResponse represents the response payload for a new session
type CreateSessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionListResponse wraps stored sessions of one client
type SessionListResponse struct {
	Sessions []*entities.Session `json:"sessions"`
}

// ClassifiersResponse reports the classifier chain
type ClassifiersResponse struct {
	Classifiers []emotion.StrategyStatus `json:"classifiers"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
