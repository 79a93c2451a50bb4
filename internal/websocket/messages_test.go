package websocket

import (
	"encoding/json"
	"testing"

	"github.com/satriahrh/emora/domain/repositories"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType MessageType
		wantErr  bool
	}{
		{name: "bare image is an emotion frame", message: `{"image": "data:image/png;base64,AAAA"}`, wantType: MessageTypeEmotion},
		{name: "typed emotion frame", message: `{"type": "emotion", "image": "AAAA"}`, wantType: MessageTypeEmotion},
		{name: "empty image is still a frame", message: `{"image": ""}`, wantType: MessageTypeEmotion},
		{name: "emotion without image", message: `{"type": "emotion"}`, wantErr: true},
		{name: "null image", message: `{"type": "emotion", "image": null}`, wantErr: true},
		{name: "empty object", message: `{}`, wantErr: true},
		{
			name:     "chat",
			message:  `{"type": "chat", "name": "ana", "messages": [{"role": "user", "content": "hi"}]}`,
			wantType: MessageTypeChat,
		},
		{name: "chat with bad role", message: `{"type": "chat", "messages": [{"role": "robot", "content": "hi"}]}`, wantErr: true},
		{name: "ping", message: `{"type": "ping", "data": "x"}`, wantType: MessageTypePing},
		{name: "unknown type", message: `{"type": "audio_chunk"}`, wantErr: true},
		{name: "invalid JSON", message: `{"image": `, wantErr: true},
		{name: "not an object", message: `"image"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && msg.Type != tt.wantType {
				t.Errorf("type = %s, want %s", msg.Type, tt.wantType)
			}
		})
	}
}

func TestOutboundMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  interface{}
		want map[string]interface{}
	}{
		{
			name: "emotion",
			msg:  CreateEmotionMessage("sad"),
			want: map[string]interface{}{"type": "emotion", "emotion": "sad"},
		},
		{
			name: "proactive",
			msg:  CreateProactiveMessage("angry"),
			want: map[string]interface{}{"type": "proactive", "emotion": "angry"},
		},
		{
			name: "pong",
			msg:  CreatePongMessage("x"),
			want: map[string]interface{}{"type": "pong", "data": "x"},
		},
		{
			name: "chat",
			msg: CreateChatResponseMessage(repositories.Reply{
				Reply:          "hello",
				Recommendation: repositories.Recommendation{Type: repositories.RecommendationGame, Query: "chess"},
			}),
			want: map[string]interface{}{
				"type":           "chat",
				"reply":          "hello",
				"recommendation": map[string]interface{}{"type": "game", "query": "chess"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var got map[string]interface{}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			for k, v := range tt.want {
				gotJSON, _ := json.Marshal(got[k])
				wantJSON, _ := json.Marshal(v)
				if string(gotJSON) != string(wantJSON) {
					t.Errorf("%s = %s, want %s", k, gotJSON, wantJSON)
				}
			}
		})
	}
}
