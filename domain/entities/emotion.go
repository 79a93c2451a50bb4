package entities

import (
	"math"
	"strings"
	"time"
)

// Emotion is a canonical, lowercase emotion label
type Emotion string

const (
	EmotionHappy    Emotion = "happy"
	EmotionSad      Emotion = "sad"
	EmotionAngry    Emotion = "angry"
	EmotionFear     Emotion = "fear"
	EmotionSurprise Emotion = "surprise"
	EmotionDisgust  Emotion = "disgust"
	EmotionNeutral  Emotion = "neutral"
)

// Emotions lists every label in enumeration order. Dominant-label ties are
// resolved against this order.
var Emotions = []Emotion{
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionFear,
	EmotionSurprise,
	EmotionDisgust,
	EmotionNeutral,
}

// NormalizeEmotion maps a classifier label onto the closed label set.
// Anything unrecognised becomes neutral.
func NormalizeEmotion(raw string) Emotion {
	e := Emotion(strings.ToLower(strings.TrimSpace(raw)))
	if e.Valid() {
		return e
	}
	return EmotionNeutral
}

// Valid reports whether e is one of the canonical labels
func (e Emotion) Valid() bool {
	switch e {
	case EmotionHappy, EmotionSad, EmotionAngry, EmotionFear,
		EmotionSurprise, EmotionDisgust, EmotionNeutral:
		return true
	}
	return false
}

func (e Emotion) String() string {
	return string(e)
}

// ClampConfidence forces a classifier score into [0,1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Detection is the raw output of a classifier strategy
type Detection struct {
	Label      Emotion `json:"label"`
	Confidence float64 `json:"confidence"`
	// Heuristic detections have no calibrated confidence and skip gating.
	Heuristic bool   `json:"heuristic,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

// NeutralDetection is what the pipeline falls back to when nothing was found
func NeutralDetection() Detection {
	return Detection{Label: EmotionNeutral}
}

// EmotionEvent is emitted whenever a session's stabilized emotion changes
type EmotionEvent struct {
	SessionID  string    `json:"session_id"`
	Emotion    Emotion   `json:"emotion"`
	Previous   Emotion   `json:"previous"`
	Raw        Emotion   `json:"raw"`
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
