package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// DefaultSessionRetention is how long a record stays active after its last activity
const DefaultSessionRetention = 24 * time.Hour

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// SessionMessage represents a chat message within a session
type SessionMessage struct {
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
	Role      MessageRole `json:"role" bson:"role"`
	Content   string      `json:"content" bson:"content"`
	Emotion   Emotion     `json:"emotion,omitempty" bson:"emotion,omitempty"`
}

// EmotionSample is one processed frame in the session timeline
type EmotionSample struct {
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	Raw        Emotion   `json:"raw" bson:"raw"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	Strategy   string    `json:"strategy,omitempty" bson:"strategy,omitempty"`
	Stable     Emotion   `json:"stable" bson:"stable"`
}

// SessionSummary is the aggregate view written when a session closes
type SessionSummary struct {
	Recent   Emotion `json:"recent" bson:"recent"`
	Dominant Emotion `json:"dominant" bson:"dominant"`
	Frames   int     `json:"frames" bson:"frames"`
}

// Session is the persisted record of one client connection
type Session struct {
	ID            string           `json:"id" bson:"_id"`
	ClientName    string           `json:"client_name" bson:"client_name"`
	CreatedAt     time.Time        `json:"created_at" bson:"created_at"`
	LastActiveAt  time.Time        `json:"last_active_at" bson:"last_active_at"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty" bson:"last_message_at,omitempty"`
	EndedAt       *time.Time       `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	ExpiresAt     time.Time        `json:"expires_at" bson:"expires_at"`
	Status        SessionStatus    `json:"status" bson:"status"`
	Emotions      []EmotionSample  `json:"emotions" bson:"emotions"`
	Messages      []SessionMessage `json:"messages" bson:"messages"`
	Summary       SessionSummary   `json:"summary" bson:"summary"`

	retention time.Duration
}

// NewSession creates an active session record
func NewSession(id, clientName string, retention time.Duration) *Session {
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	now := time.Now()
	return &Session{
		ID:           id,
		ClientName:   clientName,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(retention),
		Status:       SessionStatusActive,
		Emotions:     make([]EmotionSample, 0),
		Messages:     make([]SessionMessage, 0),
		Summary:      SessionSummary{Recent: EmotionNeutral, Dominant: EmotionNeutral},
		retention:    retention,
	}
}

// RecordEmotion appends a processed frame to the timeline
func (s *Session) RecordEmotion(sample EmotionSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	s.Emotions = append(s.Emotions, sample)
	s.Summary.Recent = sample.Stable
	s.Summary.Frames++
	s.UpdateLastActive()
}

// TrimEmotions keeps only the newest max samples. Summary counts are kept.
func (s *Session) TrimEmotions(max int) {
	if max <= 0 || len(s.Emotions) <= max {
		return
	}
	kept := make([]EmotionSample, max)
	copy(kept, s.Emotions[len(s.Emotions)-max:])
	s.Emotions = kept
}

// AddMessage adds a new chat message to the session
func (s *Session) AddMessage(role MessageRole, content string, emotion Emotion) {
	now := time.Now()
	s.Messages = append(s.Messages, SessionMessage{
		Timestamp: now,
		Role:      role,
		Content:   content,
		Emotion:   emotion,
	})
	s.LastMessageAt = &now
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *Session) UpdateLastActive() {
	retention := s.retention
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(retention)
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt) || s.Status != SessionStatusActive
}

// Terminate marks the session as closed by its client
func (s *Session) Terminate(summary SessionSummary) {
	now := time.Now()
	s.Status = SessionStatusTerminated
	s.EndedAt = &now
	s.Summary = summary
}

// Expire marks the session as expired
func (s *Session) Expire() {
	s.Status = SessionStatusExpired
}

// Conversation returns at most limit of the latest messages, oldest first
func (s *Session) Conversation(limit int) []SessionMessage {
	if limit <= 0 || limit >= len(s.Messages) {
		out := make([]SessionMessage, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]SessionMessage, limit)
	copy(out, s.Messages[len(s.Messages)-limit:])
	return out
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Emotions = append([]EmotionSample(nil), s.Emotions...)
	c.Messages = append([]SessionMessage(nil), s.Messages...)
	if s.LastMessageAt != nil {
		t := *s.LastMessageAt
		c.LastMessageAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.Status != SessionStatusActive && s.Status != SessionStatusExpired && s.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
