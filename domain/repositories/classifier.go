package repositories

import (
	"context"

	"github.com/satriahrh/emora/domain/entities"
)

// EmotionClassifier is one strategy of the classifier chain
type EmotionClassifier interface {
	// Name identifies the strategy in logs, metrics and configuration
	Name() string
	// Probe loads models or checks the backing service. A non-nil error marks
	// the strategy unavailable for the lifetime of the process.
	Probe(ctx context.Context) error
	// Classify returns nil with a nil error when no face was found
	Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error)
}
