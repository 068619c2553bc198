package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/realtime"
	"github.com/rs/zerolog"
)

type fakeUpstream struct {
	srv      *httptest.Server
	headers  chan http.Header
	models   chan string
	received chan []byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{
		headers:  make(chan http.Header, 16),
		models:   make(chan string, 16),
		received: make(chan []byte, 64),
	}
	up := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		u.headers <- r.Header
		u.models <- r.URL.Query().Get("model")

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`)); err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			u.received <- msg
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		OpenAIAPIKey:         "sk-test",
		RealtimeAPIURL:       upstreamURL,
		RealtimeModel:        "test-model",
		VoiceInstructions:    "Be brief.",
		VoiceName:            "alloy",
		TranscriptionModel:   "whisper-1",
		VADThreshold:         0.6,
		VADPrefixPaddingMs:   200,
		VADSilenceDurationMs: 150,
		VoiceTemperature:     0.7,
		VoiceMaxOutputTokens: 2048,
		TextInstructions:     "Use Markdown.",
		TextTemperature:      0.8,
		TextMaxOutputTokens:  4096,
	}
}

func newRelay(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, zerolog.New(io.Discard))
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func dialRelay(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+path, nil)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func receive(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("Upstream received invalid JSON: %v", err)
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for upstream message")
		return nil
	}
}

func TestRelay_VoiceSessionSetupAndForwarding(t *testing.T) {
	upstream := newFakeUpstream(t)
	_, srv := newRelay(t, testConfig(wsURL(upstream.srv.URL)))

	client := dialRelay(t, srv, VoicePath)

	header := <-upstream.headers
	if header.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Expected bearer token, got %q", header.Get("Authorization"))
	}
	if header.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("Expected OpenAI-Beta header, got %q", header.Get("OpenAI-Beta"))
	}
	if model := <-upstream.models; model != "test-model" {
		t.Errorf("Expected model query parameter, got %q", model)
	}

	update := receive(t, upstream.received)
	if update["type"] != realtime.CommandSessionUpdate {
		t.Fatalf("Expected session.update first, got %v", update["type"])
	}
	session := update["session"].(map[string]any)
	modalities := session["modalities"].([]any)
	if len(modalities) != 2 || modalities[0] != "text" || modalities[1] != "audio" {
		t.Errorf("Expected text and audio modalities, got %v", modalities)
	}
	if session["input_audio_format"] != "pcm16" || session["output_audio_format"] != "pcm16" {
		t.Errorf("Expected pcm16 formats, got %v", session)
	}
	turn := session["turn_detection"].(map[string]any)
	if turn["type"] != "server_vad" || turn["threshold"] != 0.6 || turn["silence_duration_ms"] != float64(150) {
		t.Errorf("Unexpected turn detection: %v", turn)
	}
	transcription := session["input_audio_transcription"].(map[string]any)
	if _, ok := transcription["language"]; ok {
		t.Error("Expected empty language to be omitted")
	}
	if tools, ok := session["tools"].([]any); !ok || len(tools) != 0 {
		t.Errorf("Expected empty tools list, got %v", session["tools"])
	}
	if session["tool_choice"] != "none" {
		t.Errorf("Expected tool_choice none, got %v", session["tool_choice"])
	}

	// upstream -> client
	var created realtime.ServerEvent
	if err := client.ReadJSON(&created); err != nil {
		t.Fatalf("Failed to read relayed event: %v", err)
	}
	if created.Type != realtime.EventSessionCreated {
		t.Errorf("Expected session.created, got %s", created.Type)
	}

	// client -> upstream, byte for byte
	if err := client.WriteJSON(realtime.CommitAudio()); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	commit := receive(t, upstream.received)
	if commit["type"] != realtime.CommandAudioCommit {
		t.Errorf("Expected commit to be relayed, got %v", commit["type"])
	}
}

func TestRelay_TextSessionConfig(t *testing.T) {
	upstream := newFakeUpstream(t)
	_, srv := newRelay(t, testConfig(wsURL(upstream.srv.URL)))

	dialRelay(t, srv, TextPath)

	update := receive(t, upstream.received)
	session := update["session"].(map[string]any)
	modalities := session["modalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "text" {
		t.Errorf("Expected text modality only, got %v", modalities)
	}
	if session["instructions"] != "Use Markdown." {
		t.Errorf("Expected text instructions, got %v", session["instructions"])
	}
	if session["temperature"] != 0.8 || session["max_response_output_tokens"] != float64(4096) {
		t.Errorf("Unexpected text sampling settings: %v", session)
	}
	if _, ok := session["voice"]; ok {
		t.Error("Expected no voice in text session")
	}
	if _, ok := session["turn_detection"]; ok {
		t.Error("Expected no turn detection in text session")
	}
}

func TestRelay_UpstreamRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer upstream.Close()
	_, srv := newRelay(t, testConfig(wsURL(upstream.URL)))

	client := dialRelay(t, srv, VoicePath)

	var ev realtime.ServerEvent
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("Expected an error event, got %v", err)
	}
	if ev.Type != realtime.EventError || ev.Error == nil {
		t.Fatalf("Expected error event, got %+v", ev)
	}
	if !strings.Contains(ev.Error.Message, "HTTP 403") {
		t.Errorf("Expected HTTP status in message, got %q", ev.Error.Message)
	}

	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("Expected relay to close the client connection")
	}
}

func TestRelay_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()
	s, srv := newRelay(t, testConfig(wsURL(upstream.URL)))

	var last realtime.ServerEvent
	for i := 0; i < 6; i++ {
		client := dialRelay(t, srv, TextPath)
		if err := client.ReadJSON(&last); err != nil {
			t.Fatalf("Expected an error event, got %v", err)
		}
		client.Close()
	}

	if last.Error == nil || last.Error.Message != "upstream temporarily unavailable" {
		t.Errorf("Expected breaker to short-circuit, got %+v", last.Error)
	}
	if ok, _ := s.UpstreamCheck(context.Background()); ok {
		t.Error("Expected upstream check to fail while the breaker is open")
	}
}

func TestRelay_UpstreamCheckRequiresKey(t *testing.T) {
	cfg := testConfig("wss://example.invalid")
	cfg.OpenAIAPIKey = ""
	s := NewServer(cfg, zerolog.New(io.Discard))

	ok, err := s.UpstreamCheck(context.Background())
	if ok || err == nil {
		t.Error("Expected missing API key to fail the upstream check")
	}
}
