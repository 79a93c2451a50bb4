package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emora/adapters"
	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/dispatch"
	"github.com/satriahrh/emora/internal/emotion"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	grey  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// colorClassifier labels a frame by its top-left pixel: red is angry, blue is
// sad, green is happy. Grey frames have no face.
type colorClassifier struct {
	confidence float64
	delay      time.Duration
	gate       chan struct{}
}

func (c *colorClassifier) Name() string                  { return "color" }
func (c *colorClassifier) Probe(ctx context.Context) error { return nil }

func (c *colorClassifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	if c.gate != nil {
		<-c.gate
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	r, g, b, _ := frame.Image.At(0, 0).RGBA()
	var label entities.Emotion
	switch {
	case r > 0xf000 && g == 0 && b == 0:
		label = entities.EmotionAngry
	case b > 0xf000 && r == 0 && g == 0:
		label = entities.EmotionSad
	case g > 0xf000 && r == 0 && b == 0:
		label = entities.EmotionHappy
	default:
		return nil, nil
	}
	conf := c.confidence
	if conf == 0 {
		conf = 0.9
	}
	return &entities.Detection{Label: label, Confidence: conf}, nil
}

func frameOf(t *testing.T, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entities.EmotionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e entities.EmotionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []entities.EmotionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entities.EmotionEvent(nil), p.events...)
}

type fixture struct {
	service   *EmotionService
	repo      *adapters.MemorySessionRepository
	publisher *recordingPublisher
}

func newFixture(t *testing.T, classifier repositories.EmotionClassifier) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	d := dispatch.New(dispatch.WithWorkers(4), dispatch.WithLogger(logger))
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	repo := adapters.NewMemorySessionRepository()
	pub := &recordingPublisher{}
	chain := emotion.NewChain([]repositories.EmotionClassifier{classifier}, time.Second, logger)
	sessions := NewSessionRegistry(SessionOptions{Window: 3, ProactiveStreak: 3, Retention: time.Hour})

	return &fixture{
		service: NewEmotionService(
			emotion.NewDecoder(0),
			chain,
			emotion.NewGate(emotion.DefaultConfidenceThreshold),
			sessions,
			d,
			repo,
			pub,
			logger,
		),
		repo:      repo,
		publisher: pub,
	}
}
