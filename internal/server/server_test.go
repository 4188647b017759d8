package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whitewookie32/TheDonna/internal/audio"
	"github.com/whitewookie32/TheDonna/internal/config"
	"github.com/whitewookie32/TheDonna/internal/metrics"
	"github.com/whitewookie32/TheDonna/internal/persona"
	"github.com/whitewookie32/TheDonna/internal/protocol"
	"github.com/whitewookie32/TheDonna/internal/provider"
	"github.com/whitewookie32/TheDonna/internal/providertest"
	"github.com/whitewookie32/TheDonna/internal/session"
	"github.com/whitewookie32/TheDonna/internal/synthesis"
	"github.com/whitewookie32/TheDonna/internal/transcription"
)

type testEnv struct {
	cfg      *config.Config
	fake     *providertest.Server
	registry *session.Registry
	server   *HTTPServer
	http     *httptest.Server
}

// newTestEnv wires the real capability clients to a fake provider. prepare
// may adjust the configuration and the static directory before the server
// is built.
func newTestEnv(t *testing.T, prepare func(cfg *config.Config)) *testEnv {
	t.Helper()

	fake := providertest.NewServer()
	t.Cleanup(fake.Close)

	cfg := config.Default()
	cfg.Provider.BaseURL = fake.URL()
	cfg.Provider.APIKey = "secret-test-key"
	cfg.HTTP.StaticDir = t.TempDir()
	if prepare != nil {
		prepare(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api, err := provider.NewOpenAIClient(cfg.Provider, http.DefaultClient)
	require.NoError(t, err)
	limiter := provider.NewLimiter(cfg.Provider.MaxConcurrent)

	stt, err := transcription.NewClient(transcription.Config{
		Model:       cfg.Transcription.Model,
		InputFormat: audio.FormatWebM,
		Timeout:     5 * time.Second,
	}, api, limiter, logger)
	require.NoError(t, err)

	chat, err := persona.NewClient(persona.Config{
		Model:        cfg.Persona.Model,
		Instruction:  persona.DefaultInstruction,
		ContextTurns: cfg.Persona.ContextTurns,
		Temperature:  cfg.Persona.Temperature,
		MaxTokens:    cfg.Persona.MaxTokens,
		Timeout:      5 * time.Second,
	}, api, limiter, logger)
	require.NoError(t, err)

	tts, err := synthesis.NewClient(synthesis.Config{
		Model:   cfg.Synthesis.Model,
		Voice:   cfg.Synthesis.Voice,
		Format:  cfg.Synthesis.Format,
		Timeout: 5 * time.Second,
	}, api, limiter, logger)
	require.NoError(t, err)

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetrics(promRegistry)

	registry, err := session.NewRegistry(session.Config{
		MinUtteranceBytes: cfg.Session.MinUtteranceBytes,
		HistoryLimit:      cfg.Session.HistoryLimit,
		PersonaName:       cfg.Persona.Name,
		InboundBuffer:     cfg.Session.InboundBuffer,
		MaxSessions:       cfg.Session.MaxSessions,
	}, session.Pipeline{
		Transcriber: stt,
		Responder:   chat,
		Synthesizer: tts,
	}, logger, m, nil)
	require.NoError(t, err)

	srv := NewHTTPServer(cfg, logger, Dependencies{
		Registry: registry,
		Metrics:  m,
		Gatherer: promRegistry,
		Limiter:  limiter,
		Stats: map[string]StatsSource{
			"transcription": stt,
			"persona":       chat,
			"synthesis":     tts,
		},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		registry.Stop()
		ts.Close()
	})

	return &testEnv{cfg: cfg, fake: fake, registry: registry, server: srv, http: ts}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) getJSON(t *testing.T, path string) map[string]interface{} {
	t.Helper()

	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func sendAudio(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	sendJSON(t, conn, map[string]string{
		"type": protocol.TypeAudioChunk,
		"data": base64.StdEncoding.EncodeToString(data),
	})
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Outbound {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	event, err := protocol.DecodeOutbound(data)
	require.NoError(t, err)
	return event
}

func readEvents(t *testing.T, conn *websocket.Conn, n int) []protocol.Outbound {
	t.Helper()

	events := make([]protocol.Outbound, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, readEvent(t, conn))
	}
	return events
}

func typesOf(events []protocol.Outbound) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func webmFragments() [][]byte {
	first := bytes.Repeat([]byte{0x42}, 2000)
	copy(first, []byte{0x1A, 0x45, 0xDF, 0xA3})
	return [][]byte{first, bytes.Repeat([]byte{0x43}, 2000)}
}

func TestVoiceChannelExchange(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	for _, fragment := range webmFragments() {
		sendAudio(t, conn, fragment)
	}
	sendJSON(t, conn, map[string]string{"type": protocol.TypeEndUtterance})

	events := readEvents(t, conn, 8)
	assert.Equal(t, []string{
		protocol.TypeChunkReceived,
		protocol.TypeChunkReceived,
		protocol.TypeStatus,
		protocol.TypeTranscript,
		protocol.TypeStatus,
		protocol.TypeResponseText,
		protocol.TypeStatus,
		protocol.TypeAudioResponse,
	}, typesOf(events))

	assert.Equal(t, "hello", events[3].Text)
	assert.Equal(t, "Donna is thinking...", events[4].Message)
	assert.Equal(t, "I'm Donna. It's handled.", events[5].Text)
	assert.Equal(t, "mp3", events[7].Format)

	audioBytes, err := events[7].AudioBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3\x04fake-mp3-audio"), audioBytes)

	uploads := env.fake.TranscriptionRequests()
	require.Len(t, uploads, 1)
	assert.Len(t, uploads[0].Audio, 4000)
	assert.Equal(t, "audio.webm", uploads[0].Filename)

	// the second utterance carries the first exchange as context
	for _, fragment := range webmFragments() {
		sendAudio(t, conn, fragment)
	}
	sendJSON(t, conn, map[string]string{"type": protocol.TypeEndUtterance})
	readEvents(t, conn, 8)

	chats := env.fake.ChatRequests()
	require.Len(t, chats, 2)
	assert.Len(t, chats[0].Messages, 2)
	require.Len(t, chats[1].Messages, 4)
	assert.Equal(t, "system", chats[1].Messages[0].Role)
	assert.Equal(t, "hello", chats[1].Messages[1].Content)
	assert.Equal(t, "I'm Donna. It's handled.", chats[1].Messages[2].Content)
}

func TestVoiceChannelProviderFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.SetChat(providertest.Failure(http.StatusBadGateway, "upstream down"))
	conn := env.dial(t)

	for _, fragment := range webmFragments() {
		sendAudio(t, conn, fragment)
	}
	sendJSON(t, conn, map[string]string{"type": protocol.TypeEndUtterance})

	events := readEvents(t, conn, 6)
	last := events[5]
	assert.Equal(t, protocol.TypeError, last.Type)
	assert.Equal(t, protocol.ReasonChatFailed, last.Reason)
	assert.Equal(t, "Chat failed: provider returned status 502", last.Message)

	// the connection stays usable
	sendJSON(t, conn, map[string]string{"type": protocol.TypePing})
	assert.Equal(t, protocol.TypePong, readEvent(t, conn).Type)
}

func TestVoiceChannelPingAndMalformed(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	sendJSON(t, conn, map[string]string{"type": protocol.TypePing})
	assert.Equal(t, protocol.TypePong, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	event := readEvent(t, conn)
	assert.Equal(t, protocol.TypeError, event.Type)
	assert.Equal(t, protocol.ReasonMalformedMessage, event.Reason)

	sendAudio(t, conn, []byte("tiny"))
	assert.Equal(t, protocol.TypeChunkReceived, readEvent(t, conn).Type)
	sendJSON(t, conn, map[string]string{"type": protocol.TypeEndUtterance})
	event = readEvent(t, conn)
	assert.Equal(t, protocol.ReasonTooShort, event.Reason)
	assert.Equal(t, 0, env.fake.CallCount())
}

func TestVoiceChannelSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Session.MaxSessions = 1 })

	first := env.dial(t)
	require.Eventually(t, func() bool { return env.registry.GetActiveSessionCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// over the cap the upgrade succeeds and the server closes straight away
	second := env.dial(t)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	doc := env.getJSON(t, "/sessions")
	assert.Equal(t, float64(1), doc["total_sessions"])

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return env.registry.GetActiveSessionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestSessionDetail(t *testing.T) {
	env := newTestEnv(t, nil)

	conn := env.dial(t)
	sendAudio(t, conn, webmFragments()[0])
	assert.Equal(t, protocol.TypeChunkReceived, readEvent(t, conn).Type)

	list := env.getJSON(t, "/sessions")
	sessions, ok := list["sessions"].([]interface{})
	require.True(t, ok)
	require.Len(t, sessions, 1)
	id, _ := sessions[0].(map[string]interface{})["id"].(string)
	require.NotEmpty(t, id)

	doc := env.getJSON(t, "/sessions/"+id)
	assert.Equal(t, id, doc["id"])
	assert.Contains(t, doc, "state")
	assert.Contains(t, doc, "started_at")

	resp, err := http.Get(env.http.URL + "/sessions/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	doc := env.getJSON(t, "/health")
	assert.Equal(t, "healthy", doc["status"])
	assert.Equal(t, "The Donna Voice Chat", doc["service"])

	components, ok := doc["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, components, "sessions")
	assert.Contains(t, components, "transcription")
	assert.Contains(t, components, "persona")
	assert.Contains(t, components, "synthesis")
}

func TestHealthRejectsPost(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.http.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRootWithoutUIReturnsAPIInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/", "/api"} {
		doc := env.getJSON(t, path)
		assert.Equal(t, "The Donna Voice Chat API", doc["message"], path)
		assert.Equal(t, "/ws", doc["websocket_endpoint"], path)
	}

	resp, err := http.Get(env.http.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRootServesBundledUI(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		dir := cfg.HTTP.StaticDir
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>donna</html>"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "_app"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "_app", "app.js"), []byte("console.log('donna')"), 0o644))
	})

	resp, err := http.Get(env.http.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "donna")

	resp, err = http.Get(env.http.URL + "/_app/app.js")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('donna')", string(body))
}

func TestConfigHidesAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/config")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "secret-test-key")
	assert.Contains(t, string(body), env.cfg.Persona.Model)
}

func TestStatsAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	doc := env.getJSON(t, "/stats")
	assert.Contains(t, doc, "stages")
	assert.Contains(t, doc, "provider")

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "donna_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
