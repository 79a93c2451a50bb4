package emotion

import "github.com/satriahrh/emora/domain/entities"

// DefaultWindowSize is the number of recent labels the smoother votes over
const DefaultWindowSize = 3

// Smoother is a fixed-capacity FIFO of gated labels with majority voting.
// It is not safe for concurrent use; one session's frames are serialized by
// the dispatcher.
type Smoother struct {
	window   []entities.Emotion
	size     int
	minVotes int
}

// NewSmoother builds a window of the given capacity. minVotes <= 0 selects a
// strict majority (size/2 + 1), which is 2 for the default window.
func NewSmoother(size, minVotes int) *Smoother {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if minVotes <= 0 {
		minVotes = size/2 + 1
	}
	return &Smoother{
		window:   make([]entities.Emotion, 0, size),
		size:     size,
		minVotes: minVotes,
	}
}

// Push appends a label and returns the stabilized label. Invalid labels
// leave the window untouched and yield neutral.
//
// Among labels tied on frequency the one seen most recently wins.
func (s *Smoother) Push(e entities.Emotion) entities.Emotion {
	if !e.Valid() {
		return entities.EmotionNeutral
	}

	if len(s.window) == s.size {
		copy(s.window, s.window[1:])
		s.window = s.window[:s.size-1]
	}
	s.window = append(s.window, e)

	counts := make(map[entities.Emotion]int, len(s.window))
	for _, label := range s.window {
		counts[label]++
	}

	var best entities.Emotion
	bestCount := 0
	for i := len(s.window) - 1; i >= 0; i-- {
		label := s.window[i]
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}

	if bestCount < s.minVotes {
		return entities.EmotionNeutral
	}
	return best
}

// Len returns the number of labels currently held
func (s *Smoother) Len() int {
	return len(s.window)
}

// Snapshot returns the window contents, oldest first
func (s *Smoother) Snapshot() []entities.Emotion {
	out := make([]entities.Emotion, len(s.window))
	copy(out, s.window)
	return out
}

// Reset empties the window
func (s *Smoother) Reset() {
	s.window = s.window[:0]
}
