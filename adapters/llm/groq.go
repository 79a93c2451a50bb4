package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/pkg/metrics"
)

const (
	GroqName           = "groq"
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.1-8b-instant"
)

// GroqConfig configures the Groq reply generator
type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []completionMsg   `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type completionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message completionMsg `json:"message"`
	} `json:"choices"`
}

// Groq implements repositories.ReplyGenerator against Groq's OpenAI compatible API
type Groq struct {
	cfg     GroqConfig
	http    *http.Client
	logger  *zap.Logger
	backoff time.Duration
}

var _ repositories.ReplyGenerator = (*Groq)(nil)

func NewGroq(cfg GroqConfig, logger *zap.Logger) (*Groq, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("groq api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Groq{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		backoff: time.Second,
	}, nil
}

func (g *Groq) Name() string { return GroqName }

func (g *Groq) GenerateReply(ctx context.Context, req repositories.ReplyRequest) (repositories.Reply, error) {
	body := chatCompletionRequest{
		Model:          g.cfg.Model,
		MaxTokens:      g.cfg.MaxTokens,
		Temperature:    g.cfg.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []completionMsg{
			{Role: string(repositories.SystemRole), Content: SystemPrompt(req.Name, req.Emotion)},
		},
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, completionMsg{Role: string(m.Role), Content: m.Content})
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reply, err := g.complete(ctx, body)
		if err == nil {
			metrics.RecordReply(GroqName, "ok")
			return reply, nil
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

	g.logger.Error("Groq reply failed, using fallback", zap.Error(lastErr))
	metrics.RecordReply(GroqName, "fallback")
	return repositories.FallbackReply(), nil
}

func (g *Groq) complete(ctx context.Context, body chatCompletionRequest) (repositories.Reply, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return repositories.Reply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return repositories.Reply{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return repositories.Reply{}, fmt.Errorf("failed to call groq: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return repositories.Reply{}, fmt.Errorf("groq returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return repositories.Reply{}, fmt.Errorf("failed to decode groq response: %w", err)
	}
	if len(out.Choices) == 0 {
		return repositories.Reply{}, errors.New("groq returned no choices")
	}
	return ParseReply(out.Choices[0].Message.Content)
}
