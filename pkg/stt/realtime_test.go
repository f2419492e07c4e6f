package stt_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceloop/voicebridge/pkg/stt"
)

// newFakeRealtimeServer upgrades to websocket and answers audio appends with
// a transcript delta and commits with a completed transcript.
func newFakeRealtimeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "input_audio_buffer.append":
				ws.WriteJSON(map[string]string{
					"type":  "conversation.item.input_audio_transcription.delta",
					"delta": "hel",
				})
			case "input_audio_buffer.commit":
				ws.WriteJSON(map[string]string{
					"type":       "conversation.item.input_audio_transcription.completed",
					"transcript": "hello",
				})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRealtimeSessionRequiresAPIKey(t *testing.T) {
	if _, err := stt.NewRealtimeSession(); !errors.Is(err, stt.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestRealtimeSessionStreamsTranscripts(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	defer srv.Close()

	session, err := stt.NewRealtimeSession(
		stt.WithAPIKey("test-key"),
		stt.WithBaseURL(wsURL(srv)),
	)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	var (
		mu       sync.Mutex
		partials []string
		finals   []string
	)
	session.OnPartial = func(text string) {
		mu.Lock()
		partials = append(partials, text)
		mu.Unlock()
	}
	session.OnFinal = func(text string) {
		mu.Lock()
		finals = append(finals, text)
		mu.Unlock()
	}
	session.OnError = func(err error) {
		t.Errorf("unexpected session error: %v", err)
	}

	if err := session.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer session.Close()

	if err := session.SendAudio([]byte("pcm16-frame")); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}
	if err := session.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(partials) > 0 && len(finals) > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(partials) == 0 || partials[0] != "hel" {
		t.Errorf("unexpected partials: %v", partials)
	}
	if len(finals) == 0 || finals[0] != "hello" {
		t.Errorf("unexpected finals: %v", finals)
	}
}

func TestRealtimeSessionSendBeforeConnect(t *testing.T) {
	session, err := stt.NewRealtimeSession(stt.WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.SendAudio([]byte("x")); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestRealtimeSessionCloseDuringSend(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	defer srv.Close()

	for i := 0; i < 20; i++ {
		session, err := stt.NewRealtimeSession(
			stt.WithAPIKey("test-key"),
			stt.WithBaseURL(wsURL(srv)),
		)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if err := session.Connect(); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				session.SendAudio([]byte("frame"))
			}
		}()

		session.Close()
		wg.Wait()

		if err := session.SendAudio([]byte("frame")); !errors.Is(err, stt.ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed after close, got %v", err)
		}
		if err := session.Commit(); !errors.Is(err, stt.ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed after close, got %v", err)
		}
		if err := session.Close(); err != nil {
			t.Fatalf("second close should be a no-op, got %v", err)
		}
	}
}
