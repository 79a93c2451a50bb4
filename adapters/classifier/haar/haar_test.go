package haar

import (
	"context"
	"errors"
	"image"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emora/domain/entities"
)

type fakeDetector struct {
	faces  []Face
	err    error
	closed bool
}

func (f *fakeDetector) Detect(image.Image) ([]Face, error) { return f.faces, f.err }
func (f *fakeDetector) Close() error                        { f.closed = true; return nil }

func probed(t *testing.T, d *fakeDetector) *Classifier {
	t.Helper()
	c := NewWithDetector(func() (Detector, error) { return d, nil }, zaptest.NewLogger(t))
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	return c
}

func TestClassifier_Classify(t *testing.T) {
	frame := &entities.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4))}
	face := image.Rect(0, 0, 2, 2)

	tests := []struct {
		name    string
		faces   []Face
		err     error
		want    entities.Emotion
		noFace  bool
		wantErr bool
	}{
		{name: "smile", faces: []Face{{Rect: face, Smiles: 1}}, want: entities.EmotionHappy},
		{name: "second face smiles", faces: []Face{{Rect: face}, {Rect: face, Smiles: 2}}, want: entities.EmotionHappy},
		{name: "no smile", faces: []Face{{Rect: face}}, want: entities.EmotionNeutral},
		{name: "no face", noFace: true},
		{name: "detector error", err: errors.New("opencv"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := probed(t, &fakeDetector{faces: tt.faces, err: tt.err})

			got, err := c.Classify(context.Background(), frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Classify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.noFace {
				if got != nil {
					t.Errorf("Classify() = %+v, want nil", got)
				}
				return
			}
			if got.Label != tt.want || !got.Heuristic || got.Confidence != 1 {
				t.Errorf("Classify() = %+v, want heuristic %s", got, tt.want)
			}
		})
	}
}

func TestClassifier_ProbeFailure(t *testing.T) {
	c := NewWithDetector(func() (Detector, error) { return nil, errors.New("missing xml") }, zaptest.NewLogger(t))
	if err := c.Probe(context.Background()); err == nil {
		t.Fatal("Probe() should fail when cascades cannot load")
	}
	if _, err := c.Classify(context.Background(), &entities.Frame{Image: image.NewGray(image.Rect(0, 0, 1, 1))}); err == nil {
		t.Error("Classify() without cascades should fail")
	}
}

func TestClassifier_Close(t *testing.T) {
	d := &fakeDetector{}
	c := probed(t, d)
	if err := c.Close(); err != nil || !d.closed {
		t.Errorf("Close() = %v, closed = %v", err, d.closed)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
