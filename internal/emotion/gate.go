package emotion

import "github.com/satriahrh/emora/domain/entities"

// DefaultConfidenceThreshold is the minimum confidence a label needs to pass
const DefaultConfidenceThreshold = 0.45

// Gate replaces low-confidence labels with neutral
type Gate struct {
	Threshold float64
}

// NewGate returns a gate with the given threshold
func NewGate(threshold float64) Gate {
	return Gate{Threshold: threshold}
}

// Apply gates a raw detection. NaN confidences never pass.
func (g Gate) Apply(d entities.Detection) entities.Emotion {
	label := entities.NormalizeEmotion(string(d.Label))
	if d.Heuristic {
		return label
	}
	if !(d.Confidence >= g.Threshold) {
		return entities.EmotionNeutral
	}
	return label
}
