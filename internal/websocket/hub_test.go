package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emora/adapters"
	"github.com/satriahrh/emora/adapters/llm"
	"github.com/satriahrh/emora/domain/entities"
	"github.com/satriahrh/emora/domain/repositories"
	"github.com/satriahrh/emora/internal/dispatch"
	"github.com/satriahrh/emora/internal/emotion"
	"github.com/satriahrh/emora/usecase"
)

// sadClassifier sees a sad face in every frame
type sadClassifier struct{}

func (sadClassifier) Name() string                    { return "sad" }
func (sadClassifier) Probe(ctx context.Context) error { return nil }
func (sadClassifier) Classify(ctx context.Context, frame *entities.Frame) (*entities.Detection, error) {
	return &entities.Detection{Label: entities.EmotionSad, Confidence: 0.9}, nil
}

type testServer struct {
	server   *httptest.Server
	hub      *Hub
	emotions *usecase.EmotionService
	repo     *adapters.MemorySessionRepository
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	d := dispatch.New(dispatch.WithWorkers(2), dispatch.WithLogger(logger))
	d.Start()

	repo := adapters.NewMemorySessionRepository()
	sessions := usecase.NewSessionRegistry(usecase.SessionOptions{Window: 3, ProactiveStreak: 3, Retention: time.Hour})
	emotions := usecase.NewEmotionService(
		emotion.NewDecoder(0),
		emotion.NewChain([]repositories.EmotionClassifier{sadClassifier{}}, time.Second, logger),
		emotion.NewGate(emotion.DefaultConfidenceThreshold),
		sessions,
		d,
		repo,
		repositories.NopPublisher{},
		logger,
	)
	chat := usecase.NewChatService(llm.NewRules(), sessions, time.Second, 20, logger)

	hub := NewHub(emotions, chat, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, c.QueryParam("session_id"), "ana", logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = d.Shutdown(shutdownCtx)
	})

	return &testServer{server: server, hub: hub, emotions: emotions, repo: repo}
}

func (s *testServer) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func testFrame(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHub_EmotionFrames(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "ws-frames")
	defer conn.Close()

	frame := testFrame(t)
	for i := 0; i < 4; i++ {
		if err := conn.WriteJSON(map[string]string{"image": frame}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}

	var emotions []string
	for len(emotions) < 4 {
		msg := readJSON(t, conn)
		if msg["type"] != string(MessageTypeEmotion) {
			t.Fatalf("unexpected message before fourth frame result: %v", msg)
		}
		emotions = append(emotions, msg["emotion"].(string))
	}
	// one vote is not a majority, so the first frame stays neutral
	want := []string{"neutral", "sad", "sad", "sad"}
	for i := range want {
		if emotions[i] != want[i] {
			t.Errorf("emotions = %v, want %v", emotions, want)
			break
		}
	}

	msg := readJSON(t, conn)
	if msg["type"] != string(MessageTypeProactive) || msg["emotion"] != "sad" {
		t.Errorf("expected proactive sad prompt, got %v", msg)
	}
}

func TestHub_PingAndMalformed(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "ws-ping")
	defer conn.Close()

	for _, raw := range []string{`{"image": `, `{"type": "audio_chunk"}`, `{"type": "emotion"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping", "data": "abc"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != string(MessageTypePong) || msg["data"] != "abc" {
		t.Errorf("expected pong, got %v", msg)
	}
}

func TestHub_EmptyImageIsNeutral(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "ws-empty")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"image": ""}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != string(MessageTypeEmotion) || msg["emotion"] != "neutral" {
		t.Errorf("expected neutral emotion, got %v", msg)
	}
}

func TestHub_Chat(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "ws-chat")
	defer conn.Close()

	err := conn.WriteJSON(map[string]interface{}{
		"type":    "chat",
		"emotion": "happy",
		"messages": []map[string]string{
			{"role": "user", "content": "hello"},
		},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	msg := readJSON(t, conn)
	if msg["type"] != string(MessageTypeChat) {
		t.Fatalf("expected chat reply, got %v", msg)
	}
	reply, _ := msg["reply"].(string)
	if !strings.Contains(reply, "ana") {
		t.Errorf("reply = %q, want it to address the client by name", reply)
	}
	if _, ok := msg["recommendation"].(map[string]interface{}); !ok {
		t.Errorf("recommendation missing: %v", msg)
	}
}

func TestHub_DisconnectPersistsSession(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "ws-persist")

	if err := conn.WriteJSON(map[string]string{"image": testFrame(t)}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readJSON(t, conn)
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		record, err := ts.repo.GetByID(context.Background(), "ws-persist")
		if err == nil {
			if record.ClientName != "ana" {
				t.Errorf("client name = %q, want ana", record.ClientName)
			}
			if record.Summary.Frames != 1 {
				t.Errorf("frames = %d, want 1", record.Summary.Frames)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session was not persisted: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := ts.hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
	if n := ts.emotions.Sessions().Len(); n != 0 {
		t.Errorf("live sessions = %d, want 0", n)
	}
}

func TestSessionCleanupService_RunCleanup(t *testing.T) {
	ts := setupTestServer(t)

	result := ts.emotions.Detect(context.Background(), "idle", "ana", testFrame(t))
	if result.Raw != entities.EmotionSad {
		t.Fatalf("Detect() raw = %s, want sad", result.Raw)
	}

	cleanup := NewSessionCleanupService(ts.emotions, ts.repo, 0, time.Minute, zaptest.NewLogger(t))
	time.Sleep(5 * time.Millisecond)
	evicted, _ := cleanup.runCleanup()
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, err := ts.repo.GetByID(context.Background(), "idle"); err != nil {
		t.Errorf("evicted session not persisted: %v", err)
	}

	cleanup.Start()
	cleanup.Stop()
}

func TestSessionCleanupService_KeepsConnectedSessions(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "held")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readJSON(t, conn)
	ts.emotions.Detect(context.Background(), "idle", "ana", testFrame(t))

	cleanup := NewSessionCleanupService(ts.emotions, ts.repo, 0, time.Minute, zaptest.NewLogger(t))
	time.Sleep(5 * time.Millisecond)
	evicted, _ := cleanup.runCleanup()
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	live, ok := ts.emotions.Sessions().Get("held")
	if !ok || live.Closed() {
		t.Fatal("connected session should survive cleanup")
	}

	if err := conn.WriteJSON(map[string]string{"image": testFrame(t)}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readJSON(t, conn); msg["type"] != string(MessageTypeEmotion) {
		t.Errorf("expected emotion, got %v", msg)
	}
	if current, _ := ts.emotions.Sessions().Get("held"); current != live {
		t.Error("frame should land on the same session")
	}
}

func TestHandleWebSocket_AfterHubStopped(t *testing.T) {
	ts := setupTestServer(t)
	logger := zaptest.NewLogger(t)

	hub := NewHub(ts.emotions, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, "late", "ana", logger)
	})
	server := httptest.NewServer(e)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed by a stopped hub")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
