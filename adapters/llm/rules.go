package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const RulesName = "rules"

var agreements = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "please", "why not", "of course"}

// Rules is the offline reply generator. It never fails.
type Rules struct{}

var _ repositories.ReplyGenerator = (*Rules)(nil)

func NewRules() *Rules { return &Rules{} }

func (r *Rules) Name() string { return RulesName }

func (r *Rules) GenerateReply(_ context.Context, req repositories.ReplyRequest) (repositories.Reply, error) {
	name := req.Name
	if name == "" {
		name = "friend"
	}
	userText := strings.TrimSpace(req.LastUserMessage())

	if userText != "" && offeredMusic(req.Messages) && agrees(userText) {
		return repositories.Reply{
			Reply: fmt.Sprintf("Here is something to listen to, %s.", name),
			Recommendation: repositories.Recommendation{
				Type:  repositories.RecommendationSong,
				Query: PlaylistFor(req.Emotion),
			},
		}, nil
	}

	var text string
	switch req.Emotion {
	case entities.EmotionSad:
		if userText == "" {
			text = fmt.Sprintf("Hey %s, you look sad today. Can I know the reason?", name)
		} else {
			text = fmt.Sprintf("I understand, %s. Let me try to cheer you up 😊 Would you like some music?", name)
		}
	case entities.EmotionHappy:
		text = fmt.Sprintf("Wow %s, you look happy! Want to play a game?", name)
	case entities.EmotionAngry:
		text = fmt.Sprintf("%s, let's slow things down together. Take a breath. Would you like some music?", name)
	default:
		text = fmt.Sprintf("I'm listening, %s. Tell me more.", name)
	}

	return repositories.Reply{
		Reply:          text,
		Recommendation: repositories.Recommendation{Type: repositories.RecommendationNone},
	}, nil
}

// offeredMusic reports whether the latest assistant turn asked about music
func offeredMusic(messages []repositories.ChatMessage) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == repositories.AssistantRole {
			return strings.Contains(strings.ToLower(messages[i].Content), "music")
		}
	}
	return false
}

func agrees(text string) bool {
	text = strings.ToLower(strings.Trim(text, " .!?"))
	for _, a := range agreements {
		if text == a || strings.HasPrefix(text, a+" ") || strings.HasPrefix(text, a+",") {
			return true
		}
	}
	return false
}
