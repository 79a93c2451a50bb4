package emotion

import "github.com/satriahrh/emora/domain/entities"

// History is the append-only list of stabilized labels for one session
type History struct {
	entries []entities.Emotion
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(e entities.Emotion) {
	h.entries = append(h.entries, e)
}

// Recent returns the latest label, or neutral when empty
func (h *History) Recent() entities.Emotion {
	if len(h.entries) == 0 {
		return entities.EmotionNeutral
	}
	return h.entries[len(h.entries)-1]
}

// Dominant returns the most frequent label. Ties go to the label that comes
// first in entities.Emotions; labels outside the set are ignored.
func (h *History) Dominant() entities.Emotion {
	if len(h.entries) == 0 {
		return entities.EmotionNeutral
	}
	counts := make(map[entities.Emotion]int, len(entities.Emotions))
	for _, e := range h.entries {
		counts[e]++
	}
	best := entities.EmotionNeutral
	bestCount := 0
	for _, e := range entities.Emotions {
		if counts[e] > bestCount {
			best, bestCount = e, counts[e]
		}
	}
	return best
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Snapshot() []entities.Emotion {
	out := make([]entities.Emotion, len(h.entries))
	copy(out, h.entries)
	return out
}
