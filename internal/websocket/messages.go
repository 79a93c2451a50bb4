package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/satriahrh/emora/domain/repositories"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeEmotion   MessageType = "emotion"
	MessageTypeChat      MessageType = "chat"
	MessageTypeProactive MessageType = "proactive"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// InboundMessage is anything a client may send. A message without a type
// but with an image key is an emotion frame.
type InboundMessage struct {
	Type     MessageType                `json:"type"`
	Image    string                     `json:"image,omitempty"`
	Name     string                     `json:"name,omitempty"`
	Emotion  string                     `json:"emotion,omitempty"`
	Messages []repositories.ChatMessage `json:"messages,omitempty"`
	Data     string                     `json:"data,omitempty"`

	// HasImage is set when the image key is present, even if empty
	HasImage bool `json:"-"`
}

// EmotionMessage carries the stabilized label of one frame
type EmotionMessage struct {
	Type      MessageType `json:"type"`
	Emotion   string      `json:"emotion"`
	Timestamp int64       `json:"timestamp"`
}

// ProactiveMessage tells the client a sustained emotion is worth talking about
type ProactiveMessage struct {
	Type      MessageType `json:"type"`
	Emotion   string      `json:"emotion"`
	Timestamp int64       `json:"timestamp"`
}

// ChatResponseMessage carries a generated reply
type ChatResponseMessage struct {
	Type           MessageType                 `json:"type"`
	Reply          string                      `json:"reply"`
	Recommendation repositories.Recommendation `json:"recommendation"`
}

// PongMessage represents a pong response
type PongMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
}

var errMissingImage = errors.New("image is required")

// MessageValidator parses and checks incoming messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	var image struct {
		Image *string `json:"image"`
	}
	if err := json.Unmarshal(messageBytes, &image); err == nil {
		msg.HasImage = image.Image != nil
	}

	if msg.Type == "" {
		msg.Type = MessageTypeEmotion
	}

	switch msg.Type {
	case MessageTypeEmotion:
		// An empty image is still a frame; it decodes to neutral.
		if !msg.HasImage {
			return nil, errMissingImage
		}
	case MessageTypeChat:
		for i, m := range msg.Messages {
			switch m.Role {
			case repositories.UserRole, repositories.AssistantRole, repositories.SystemRole:
			default:
				return nil, fmt.Errorf("message %d has unknown role %q", i, m.Role)
			}
		}
	case MessageTypePing:
	default:
		return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
	return &msg, nil
}

// CreateEmotionMessage creates an emotion update
func CreateEmotionMessage(emotion string) *EmotionMessage {
	return &EmotionMessage{
		Type:      MessageTypeEmotion,
		Emotion:   emotion,
		Timestamp: time.Now().Unix(),
	}
}

// CreateProactiveMessage creates a proactive prompt
func CreateProactiveMessage(emotion string) *ProactiveMessage {
	return &ProactiveMessage{
		Type:      MessageTypeProactive,
		Emotion:   emotion,
		Timestamp: time.Now().Unix(),
	}
}

// CreateChatResponseMessage wraps a generated reply
func CreateChatResponseMessage(reply repositories.Reply) *ChatResponseMessage {
	return &ChatResponseMessage{
		Type:           MessageTypeChat,
		Reply:          reply.Reply,
		Recommendation: reply.Recommendation,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{Type: MessageTypePong, Data: data}
}
