package fer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emora/domain/entities"
)

func newSidecar(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(status)
		case "/detect":
			var req detectRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *entities.Detection
		wantErr bool
	}{
		{
			name:   "first face wins",
			status: http.StatusOK,
			body:   `{"faces":[{"box":[0,0,10,10],"emotions":{"happy":0.7,"sad":0.2,"neutral":0.1}},{"emotions":{"angry":0.99}}]}`,
			want:   &entities.Detection{Label: entities.EmotionHappy, Confidence: 0.7, Strategy: Name},
		},
		{
			name:   "no faces",
			status: http.StatusOK,
			body:   `{"faces":[]}`,
		},
		{
			name:   "empty distribution",
			status: http.StatusOK,
			body:   `{"faces":[{"emotions":{}}]}`,
		},
		{
			name:   "unknown label normalizes",
			status: http.StatusOK,
			body:   `{"faces":[{"emotions":{"contempt":0.8}}]}`,
			want:   &entities.Detection{Label: entities.EmotionNeutral, Confidence: 0.8, Strategy: Name},
		},
		{
			name:   "percentage score is clamped",
			status: http.StatusOK,
			body:   `{"faces":[{"emotions":{"sad":87,"happy":13}}]}`,
			want:   &entities.Detection{Label: entities.EmotionSad, Confidence: 1, Strategy: Name},
		},
		{
			name:   "negative score is clamped",
			status: http.StatusOK,
			body:   `{"faces":[{"emotions":{"angry":-0.5}}]}`,
			want:   &entities.Detection{Label: entities.EmotionAngry, Confidence: 0, Strategy: Name},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `model crashed`,
			wantErr: true,
		},
		{
			name:    "garbage body",
			status:  http.StatusOK,
			body:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newSidecar(t, tt.status, tt.body)
			c := New(Config{URL: srv.URL + "/"}, zaptest.NewLogger(t))

			got, err := c.Classify(context.Background(), &entities.Frame{Raw: []byte{1, 2, 3}, Format: "jpeg"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Classify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("Classify() = %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifier_Probe(t *testing.T) {
	healthy := newSidecar(t, http.StatusOK, "")
	if err := New(Config{URL: healthy.URL}, zaptest.NewLogger(t)).Probe(context.Background()); err != nil {
		t.Errorf("Probe() on healthy sidecar = %v", err)
	}

	sick := newSidecar(t, http.StatusServiceUnavailable, "")
	if err := New(Config{URL: sick.URL}, zaptest.NewLogger(t)).Probe(context.Background()); err == nil {
		t.Error("Probe() on unhealthy sidecar should fail")
	}

	if err := New(Config{}, zaptest.NewLogger(t)).Probe(context.Background()); err == nil {
		t.Error("Probe() without url should fail")
	}
}

func TestTopEmotion(t *testing.T) {
	label, score, ok := TopEmotion(map[string]float64{"sad": 0.4, "angry": 0.4, "happy": 0.2})
	if !ok || label != "angry" || score != 0.4 {
		t.Errorf("TopEmotion() = %s %v %v, want angry 0.4 true", label, score, ok)
	}
	if _, _, ok := TopEmotion(nil); ok {
		t.Error("TopEmotion(nil) should report no result")
	}
}
