package entities

import (
	"math"
	"testing"
)

func TestNormalizeEmotion(t *testing.T) {
	tests := []struct {
		raw  string
		want Emotion
	}{
		{"happy", EmotionHappy},
		{"HAPPY", EmotionHappy},
		{" Sad ", EmotionSad},
		{"angry", EmotionAngry},
		{"fear", EmotionFear},
		{"surprise", EmotionSurprise},
		{"disgust", EmotionDisgust},
		{"neutral", EmotionNeutral},
		{"contempt", EmotionNeutral},
		{"", EmotionNeutral},
	}

	for _, tt := range tests {
		if got := NormalizeEmotion(tt.raw); got != tt.want {
			t.Errorf("NormalizeEmotion(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestEmotionsEnumerationOrder(t *testing.T) {
	if len(Emotions) != 7 {
		t.Fatalf("Expected 7 labels, got %d", len(Emotions))
	}
	if Emotions[0] != EmotionHappy || Emotions[len(Emotions)-1] != EmotionNeutral {
		t.Errorf("Unexpected enumeration order: %v", Emotions)
	}
	for _, e := range Emotions {
		if !e.Valid() {
			t.Errorf("%s should be valid", e)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.45, 0.45},
		{0, 0},
		{1, 1},
		{1.7, 1},
		{-0.2, 0},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}

	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
