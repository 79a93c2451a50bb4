package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/pkg/metrics"
)

const (
	GeminiName         = "gemini"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultTemperature = 0.7
	defaultMaxTokens   = 200
	defaultTimeout     = 15 * time.Second
	maxAttempts        = 3
)

// GeminiConfig configures the Gemini reply generator
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	Timeout         time.Duration
}

// Gemini implements repositories.ReplyGenerator using Google's Gemini API
type Gemini struct {
	client  *genai.Client
	logger  *zap.Logger
	cfg     GeminiConfig
	backoff time.Duration
}

var _ repositories.ReplyGenerator = (*Gemini)(nil)

// NewGemini creates a new Gemini reply generator
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2, got %f", cfg.Temperature)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{client: client, logger: logger, cfg: cfg, backoff: time.Second}, nil
}

func (g *Gemini) Name() string { return GeminiName }

// GenerateReply asks the model for a JSON reply. Failures after the last retry
// yield the fallback reply, never an error.
func (g *Gemini) GenerateReply(ctx context.Context, req repositories.ReplyRequest) (repositories.Reply, error) {
	contents := toGeminiContents(req.Messages)
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("(the user is silent)", genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(req.Name, req.Emotion), genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   int32(g.cfg.MaxOutputTokens),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    replySchema(),
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
		if err == nil {
			var reply repositories.Reply
			reply, err = ParseReply(candidateText(resp))
			if err == nil {
				metrics.RecordReply(GeminiName, "ok")
				return reply, nil
			}
		}
		lastErr = err

		g.logger.Warn("Failed to generate reply, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				attempt = maxAttempts
			case <-time.After(time.Duration(attempt+1) * g.backoff):
			}
		}
	}

	g.logger.Error("Gemini reply failed, using fallback", zap.Error(lastErr))
	metrics.RecordReply(GeminiName, "fallback")
	return repositories.FallbackReply(), nil
}

func replySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reply": {Type: genai.TypeString},
			"recommendation": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"type":  {Type: genai.TypeString, Enum: []string{"song", "video", "game", "none"}},
					"query": {Type: genai.TypeString},
				},
				Required: []string{"type", "query"},
			},
		},
		Required: []string{"reply", "recommendation"},
	}
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text += part.Text
		}
	}
	return text
}

// toGeminiContents converts chat history to Gemini format. System messages
// are sent as user turns since the system prompt is set separately.
func toGeminiContents(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
