package emotion

import "github.com/satriahrh/emora/domain/entities"

// DefaultStreakLength is how many consecutive identical labels fire a prompt
const DefaultStreakLength = 3

// Streak watches stabilized labels and fires once when the same prompting
// emotion is seen Length times in a row. Firing resets the count.
type Streak struct {
	Length int
	last   entities.Emotion
	count  int
}

func NewStreak(length int) *Streak {
	if length <= 0 {
		length = DefaultStreakLength
	}
	return &Streak{Length: length}
}

// Observe returns the emotion and true when the streak fires
func (s *Streak) Observe(e entities.Emotion) (entities.Emotion, bool) {
	if !prompts(e) {
		s.last, s.count = e, 0
		return "", false
	}
	if e == s.last {
		s.count++
	} else {
		s.last, s.count = e, 1
	}
	if s.count >= s.Length {
		s.count = 0
		return e, true
	}
	return "", false
}

func prompts(e entities.Emotion) bool {
	switch e {
	case entities.EmotionSad, entities.EmotionAngry, entities.EmotionHappy, entities.EmotionFear:
		return true
	}
	return false
}
