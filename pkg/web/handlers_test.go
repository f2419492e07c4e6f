package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/voiceloop/voicebridge/internal/log"
	"github.com/voiceloop/voicebridge/internal/mailbox"
	"github.com/voiceloop/voicebridge/pkg/bot"
	"github.com/voiceloop/voicebridge/pkg/stt"
	"github.com/voiceloop/voicebridge/pkg/tts"
	"github.com/voiceloop/voicebridge/pkg/web"
)

func newTestServer(t *testing.T, opts web.Options) *web.Server {
	t.Helper()
	if opts.Mailbox == nil {
		opts.Mailbox = mailbox.New()
		t.Cleanup(opts.Mailbox.Close)
	}
	if opts.Transcriber == nil {
		opts.Transcriber = stt.NewMock("hello world")
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = tts.NewMock()
	}
	opts.Port = "0"
	opts.Logger = log.L()
	return web.NewServer(opts)
}

func jsonRequest(method, target string, body any) *http.Request {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateConversation(t *testing.T) {
	var (
		mu      sync.Mutex
		notices []bot.StartNotice
	)
	botSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/conversations") {
			var n bot.StartNotice
			json.NewDecoder(r.Body).Decode(&n)
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		}
	}))
	defer botSrv.Close()

	client, err := bot.NewClient(botSrv.URL, log.L())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher := bot.NewDispatcher(client, log.L())

	srv := newTestServer(t, web.Options{
		Dispatcher:  dispatcher,
		CallbackURL: "http://bridge.example/api/callbacks/reply",
	})

	resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/conversations", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body web.CreateConversationResponse
	decodeBody(t, resp, &body)
	if body.ConversationID == "" {
		t.Error("expected a conversation id")
	}

	dispatcher.Close() // drain the notify

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 {
		t.Fatalf("expected 1 start notice, got %d", len(notices))
	}
	if notices[0].ConversationID != body.ConversationID {
		t.Errorf("notice id %s != response id %s", notices[0].ConversationID, body.ConversationID)
	}
	if notices[0].CallbackURL != "http://bridge.example/api/callbacks/reply" {
		t.Errorf("unexpected callback url: %s", notices[0].CallbackURL)
	}
}

func TestSendMessage(t *testing.T) {
	var (
		mu       sync.Mutex
		messages []bot.Message
	)
	botSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m bot.Message
		json.NewDecoder(r.Body).Decode(&m)
		mu.Lock()
		messages = append(messages, m)
		mu.Unlock()
	}))
	defer botSrv.Close()

	client, err := bot.NewClient(botSrv.URL, log.L())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher := bot.NewDispatcher(client, log.L())

	srv := newTestServer(t, web.Options{Dispatcher: dispatcher})

	t.Run("accepted", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/conversations/conv-1/messages",
			web.SendMessageRequest{Message: "what's the weather"}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("expected 202, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("empty message rejected", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/conversations/conv-1/messages",
			web.SendMessageRequest{}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	dispatcher.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d", len(messages))
	}
	if messages[0].ConversationID != "conv-1" || messages[0].Message != "what's the weather" {
		t.Errorf("unexpected forward: %+v", messages[0])
	}
}

func TestBotEndpointsWithoutDispatcher(t *testing.T) {
	srv := newTestServer(t, web.Options{})

	for _, target := range []struct {
		method string
		url    string
		body   any
	}{
		{http.MethodPost, "/api/conversations", nil},
		{http.MethodPost, "/api/conversations/conv-1/messages", web.SendMessageRequest{Message: "hi"}},
	} {
		resp, err := srv.App().Test(jsonRequest(target.method, target.url, target.body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target.url, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestReplyCallbackAndPoll(t *testing.T) {
	srv := newTestServer(t, web.Options{})

	t.Run("callback always acks", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/callbacks/reply",
			web.ReplyCallbackRequest{ConversationID: "conv-1", Message: "it is sunny"}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("poll collects once", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodGet, "/api/conversations/conv-1/reply", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var body web.ReplyResponse
		decodeBody(t, resp, &body)
		if body.Message != "it is sunny" {
			t.Errorf("unexpected reply: %q", body.Message)
		}
		if body.DepositedAt.IsZero() {
			t.Error("expected a deposit timestamp")
		}
	})

	t.Run("second poll misses", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodGet, "/api/conversations/conv-1/reply", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("callback without id still acks", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/callbacks/reply",
			web.ReplyCallbackRequest{Message: "orphan"}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestPollMissWithoutDeposit(t *testing.T) {
	srv := newTestServer(t, web.Options{})

	resp, err := srv.App().Test(jsonRequest(http.MethodGet, "/api/conversations/unknown/reply", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTranscribe(t *testing.T) {
	t.Run("returns transcript", func(t *testing.T) {
		srv := newTestServer(t, web.Options{Transcriber: stt.NewMock("turn on the lights")})

		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("webm-bytes"))
		req.Header.Set("Content-Type", "audio/webm")

		resp, err := srv.App().Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Text string `json:"text"`
		}
		decodeBody(t, resp, &body)
		if body.Text != "turn on the lights" {
			t.Errorf("unexpected transcript: %q", body.Text)
		}
	})

	t.Run("empty body rejected", func(t *testing.T) {
		srv := newTestServer(t, web.Options{})

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodPost, "/api/transcribe", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("provider failure is opaque", func(t *testing.T) {
		srv := newTestServer(t, web.Options{
			Transcriber: stt.MockWithError(errors.New("vendor exploded")),
		})

		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("bytes"))
		req.Header.Set("Content-Type", "audio/webm")

		resp, err := srv.App().Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", resp.StatusCode)
		}
		var body struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &body)
		if strings.Contains(body.Error, "vendor") {
			t.Errorf("provider detail leaked to client: %q", body.Error)
		}
	})
}

func TestSynthesize(t *testing.T) {
	t.Run("streams audio", func(t *testing.T) {
		srv := newTestServer(t, web.Options{})

		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/synthesize",
			web.SynthesizeRequest{Text: "hello"}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("expected audio/mpeg, got %s", ct)
		}
		audio, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if len(audio) == 0 {
			t.Error("expected audio bytes")
		}
	})

	t.Run("empty text rejected", func(t *testing.T) {
		srv := newTestServer(t, web.Options{})

		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/synthesize",
			web.SynthesizeRequest{}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("provider failure is opaque", func(t *testing.T) {
		srv := newTestServer(t, web.Options{
			Synthesizer: tts.MockWithError(errors.New("vendor exploded")),
		})

		resp, err := srv.App().Test(jsonRequest(http.MethodPost, "/api/synthesize",
			web.SynthesizeRequest{Text: "hello"}))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestStaticDemoPage(t *testing.T) {
	t.Run("serves the page when the directory exists", func(t *testing.T) {
		dir := t.TempDir()
		page := []byte("<!doctype html><title>voicebridge</title>")
		if err := os.WriteFile(filepath.Join(dir, "index.html"), page, 0o644); err != nil {
			t.Fatalf("write page: %v", err)
		}

		srv := newTestServer(t, web.Options{StaticDir: dir})

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "voicebridge") {
			t.Errorf("unexpected page body: %q", body)
		}
	})

	t.Run("missing directory is not mounted", func(t *testing.T) {
		srv := newTestServer(t, web.Options{StaticDir: filepath.Join(t.TempDir(), "absent")})

		resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestHealthAndStats(t *testing.T) {
	m := mailbox.New()
	t.Cleanup(m.Close)
	srv := newTestServer(t, web.Options{Mailbox: m})

	m.Deposit("conv-1", "pending reply")

	t.Run("health", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodGet, "/health", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var body struct {
			Status  string `json:"status"`
			Pending int    `json:"pending"`
		}
		decodeBody(t, resp, &body)
		if body.Status != "ok" {
			t.Errorf("expected ok, got %s", body.Status)
		}
		if body.Pending != 1 {
			t.Errorf("expected 1 pending, got %d", body.Pending)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := srv.App().Test(jsonRequest(http.MethodGet, "/api/stats", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var stats mailbox.Stats
		decodeBody(t, resp, &stats)
		if stats.Deposits != 1 {
			t.Errorf("expected 1 deposit, got %d", stats.Deposits)
		}
	})
}
