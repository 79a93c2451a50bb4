// Package gemini classifies facial expressions with a multimodal Gemini model
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const (
	Name         = "gemini"
	defaultModel = "gemini-2.0-flash"
	prompt       = "Look at the most prominent human face in this image and classify its facial expression. " +
		"Answer with face_found false when there is no face."
)

// Config configures the vision classifier
type Config struct {
	APIKey string
	Model  string
}

type verdict struct {
	FaceFound  bool    `json:"face_found"`
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// Classifier implements repositories.EmotionClassifier with genai
type Classifier struct {
	cfg    Config
	client *genai.Client
	logger *zap.Logger
}

var _ repositories.EmotionClassifier = (*Classifier)(nil)

func New(cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Classifier{cfg: cfg, logger: logger}
}

func (c *Classifier) Name() string { return Name }

// Probe creates the client. It does not spend a request.
func (c *Classifier) Probe(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("gemini: no api key configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.client = client
	return nil
}

func (c *Classifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	if c.client == nil {
		return nil, errors.New("gemini: client not initialised")
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(frame.Raw, frame.MIMEType()),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}
	return parseVerdict(text)
}

func parseVerdict(text string) (*entities.Detection, error) {
	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("failed to decode gemini verdict: %w", err)
	}
	if !v.FaceFound {
		return nil, nil
	}
	return &entities.Detection{
		Label:      entities.NormalizeEmotion(v.Emotion),
		Confidence: entities.ClampConfidence(v.Confidence),
		Strategy:   Name,
	}, nil
}

func responseSchema() *genai.Schema {
	labels := make([]string, len(entities.Emotions))
	for i, e := range entities.Emotions {
		labels[i] = string(e)
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"face_found": {Type: genai.TypeBoolean},
			"emotion":    {Type: genai.TypeString, Enum: labels},
			"confidence": {Type: genai.TypeNumber, Description: "between 0 and 1"},
		},
		Required: []string{"face_found", "emotion", "confidence"},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
