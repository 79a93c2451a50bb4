// Package llm holds the reply generators that turn a stabilized emotion and a
// conversation into a short supportive reply with an optional recommendation.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const (
	playlistSad   = "https://open.spotify.com/playlist/37i9dQZF1DX3rxVfibe1L0"
	playlistAngry = "https://open.spotify.com/playlist/37i9dQZF1DWU0ScTcjJBdj"
	playlistHappy = "https://open.spotify.com/playlist/37i9dQZF1DXdPec7aLTmlC"
)

// PlaylistFor returns the playlist suggested for an emotion
func PlaylistFor(e entities.Emotion) string {
	switch e {
	case entities.EmotionSad:
		return playlistSad
	case entities.EmotionAngry:
		return playlistAngry
	default:
		return playlistHappy
	}
}

// SystemPrompt builds the instruction shared by the remote providers
func SystemPrompt(name string, emotion entities.Emotion) string {
	if name == "" {
		name = "friend"
	}
	var b strings.Builder
	b.WriteString("You are an emotionally intelligent AI companion. ")
	fmt.Fprintf(&b, "User name: %s. Current emotion: %s. ", name, emotion)
	b.WriteString("Respond naturally and empathetically to the conversation history.\n")
	b.WriteString("Recommendations:\n")
	b.WriteString("1. If the user is sad, angry or happy, gently ask whether they would like some music.\n")
	b.WriteString("2. If they agree, put the playlist link in recommendation.query and set recommendation.type to \"song\".\n")
	fmt.Fprintf(&b, "   sad: %s\n", playlistSad)
	fmt.Fprintf(&b, "   angry: %s\n", playlistAngry)
	fmt.Fprintf(&b, "   happy: %s\n", playlistHappy)
	fmt.Fprintf(&b, "   anything else: %s\n", playlistHappy)
	b.WriteString("3. Otherwise set recommendation.type to \"none\" and leave the query empty.\n")
	b.WriteString(`Return only JSON shaped like {"reply": "...", "recommendation": {"type": "song|video|game|none", "query": "..."}}. `)
	b.WriteString("Keep the reply under two sentences and conversational.")
	return b.String()
}

// ParseReply decodes a provider's JSON answer. Code fences are tolerated and
// unknown recommendation types become none.
func ParseReply(text string) (repositories.Reply, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply repositories.Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return repositories.Reply{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return repositories.Reply{}, fmt.Errorf("reply is empty")
	}
	reply.Recommendation.Type = repositories.NormalizeRecommendationType(string(reply.Recommendation.Type))
	if reply.Recommendation.Type == repositories.RecommendationNone {
		reply.Recommendation.Query = ""
	}
	return reply, nil
}
