// Package haar is the last-resort strategy: Haar cascades find faces and
// smiles, and a smile anywhere means happy.
package haar

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
)

const Name = "haar"

// Face is a detected face and the number of smiles found inside it
type Face struct {
	Rect   image.Rectangle
	Smiles int
}

// Detector finds faces and smiles in a frame
type Detector interface {
	Detect(img image.Image) ([]Face, error)
	Close() error
}

// Config points at the cascade XML files
type Config struct {
	FaceCascade  string
	SmileCascade string
}

// Classifier implements repositories.EmotionClassifier with a Detector
type Classifier struct {
	open   func() (Detector, error)
	logger *zap.Logger

	mu       sync.Mutex
	detector Detector
}

var _ repositories.EmotionClassifier = (*Classifier)(nil)

// New builds a classifier backed by OpenCV cascades
func New(cfg Config, logger *zap.Logger) *Classifier {
	return NewWithDetector(func() (Detector, error) {
		return NewCascadeDetector(cfg.FaceCascade, cfg.SmileCascade)
	}, logger)
}

// NewWithDetector builds a classifier whose detector is created by open
// during Probe
func NewWithDetector(open func() (Detector, error), logger *zap.Logger) *Classifier {
	return &Classifier{open: open, logger: logger}
}

func (c *Classifier) Name() string { return Name }

// Probe loads the cascades
func (c *Classifier) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detector != nil {
		return nil
	}
	d, err := c.open()
	if err != nil {
		return fmt.Errorf("failed to load cascades: %w", err)
	}
	c.detector = d
	return nil
}

// Classify reports happy when any face smiles, neutral when faces were found
// without smiles and nil when there is no face
func (c *Classifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, errors.New("haar: frame has no raster")
	}

	c.mu.Lock()
	detector := c.detector
	if detector == nil {
		c.mu.Unlock()
		return nil, errors.New("haar: cascades not loaded")
	}
	faces, err := detector.Detect(frame.Image)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("haar detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	label := entities.EmotionNeutral
	for _, f := range faces {
		if f.Smiles > 0 {
			label = entities.EmotionHappy
			break
		}
	}
	c.logger.Debug("haar detection", zap.Int("faces", len(faces)), zap.String("label", string(label)))

	return &entities.Detection{
		Label:      label,
		Confidence: 1,
		Heuristic:  true,
		Strategy:   Name,
	}, nil
}

// Close releases the cascades
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detector == nil {
		return nil
	}
	err := c.detector.Close()
	c.detector = nil
	return err
}
