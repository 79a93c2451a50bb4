// Package fer talks to an expression-classifier sidecar that returns a full
// score distribution for every detected face.
package fer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const Name = "fer"

// Config configures the sidecar client
type Config struct {
	URL     string
	Timeout time.Duration
}

type detectRequest struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

type face struct {
	Box      []int              `json:"box"`
	Emotions map[string]float64 `json:"emotions"`
}

type detectResponse struct {
	Faces []face `json:"faces"`
}

// Classifier implements repositories.EmotionClassifier over HTTP
type Classifier struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ repositories.EmotionClassifier = (*Classifier)(nil)

func New(cfg Config, logger *zap.Logger) *Classifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Classifier{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Classifier) Name() string { return Name }

// Probe checks the sidecar health endpoint
func (c *Classifier) Probe(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("fer: no sidecar url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach fer sidecar: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fer sidecar unhealthy: %s", resp.Status)
	}
	return nil
}

// Classify posts the frame and picks the top label of the first face
func (c *Classifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	body, err := json.Marshal(detectRequest{
		Image:  base64.StdEncoding.EncodeToString(frame.Raw),
		Format: frame.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call fer sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fer %s: %s", resp.Status, string(b))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode fer response: %w", err)
	}
	if len(out.Faces) == 0 {
		return nil, nil
	}

	label, score, ok := TopEmotion(out.Faces[0].Emotions)
	if !ok {
		return nil, nil
	}
	c.logger.Debug("fer detection",
		zap.String("label", label),
		zap.Float64("score", score),
		zap.Int("faces", len(out.Faces)))

	return &entities.Detection{
		Label:      entities.NormalizeEmotion(label),
		Confidence: entities.ClampConfidence(score),
		Strategy:   Name,
	}, nil
}

// TopEmotion returns the highest scoring label. Ties go to the
// lexicographically smallest label so results are stable.
func TopEmotion(scores map[string]float64) (string, float64, bool) {
	if len(scores) == 0 {
		return "", 0, false
	}
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, l := range labels[1:] {
		if scores[l] > scores[best] {
			best = l
		}
	}
	return best, scores[best], true
}
