package providertest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Response is a canned reply for one endpoint
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Delay       time.Duration // held before replying, aborted if the caller goes away
}

// TranscriptionText returns a successful transcription reply
func TranscriptionText(text string) Response {
	body, _ := json.Marshal(map[string]string{"text": text})
	return Response{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

// ChatReply returns a chat completion with a single assistant choice
func ChatReply(text string) Response {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-fake",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "fake",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": text,
				},
			},
		},
	})
	return Response{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

// SpeechAudio returns a successful synthesis reply carrying audio verbatim
func SpeechAudio(audio []byte) Response {
	return Response{Status: http.StatusOK, ContentType: "audio/mpeg", Body: audio}
}

// JSONBody returns a 200 reply with an arbitrary JSON document
func JSONBody(doc string) Response {
	return Response{Status: http.StatusOK, ContentType: "application/json", Body: []byte(doc)}
}

// Failure returns an OpenAI-style error reply
func Failure(status int, message string) Response {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "server_error",
		},
	})
	return Response{Status: status, ContentType: "application/json", Body: body}
}

// TranscriptionRequest records one /audio/transcriptions call
type TranscriptionRequest struct {
	Model       string
	Language    string
	Filename    string
	ContentType string
	Audio       []byte
}

// ChatMessage is one message of a recorded chat request
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest records one /chat/completions call
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// SpeechRequest records one /audio/speech call
type SpeechRequest struct {
	Model          string
	Input          string
	Voice          string
	ResponseFormat string
}

// Handler is an OpenAI-compatible fake serving the three endpoints used by
// the relay. Replies are configurable per endpoint and every request is
// recorded for inspection.
type Handler struct {
	mu            sync.Mutex
	transcription Response
	chat          Response
	speech        Response

	transcriptionRequests []TranscriptionRequest
	chatRequests          []ChatRequest
	speechRequests        []SpeechRequest

	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a handler with successful default replies
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Handler{
		transcription: TranscriptionText("hello"),
		chat:          ChatReply("I'm Donna. It's handled."),
		speech:        SpeechAudio([]byte("ID3\x04fake-mp3-audio")),
		logger:        logger,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("/audio/transcriptions", h.handleTranscription)
	h.mux.HandleFunc("/chat/completions", h.handleChat)
	h.mux.HandleFunc("/audio/speech", h.handleSpeech)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) SetTranscription(resp Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcription = resp
}

func (h *Handler) SetChat(resp Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat = resp
}

func (h *Handler) SetSpeech(resp Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speech = resp
}

func (h *Handler) TranscriptionRequests() []TranscriptionRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TranscriptionRequest(nil), h.transcriptionRequests...)
}

func (h *Handler) ChatRequests() []ChatRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChatRequest(nil), h.chatRequests...)
}

func (h *Handler) SpeechRequests() []SpeechRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SpeechRequest(nil), h.speechRequests...)
}

// CallCount returns the total number of requests served on all endpoints
func (h *Handler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transcriptionRequests) + len(h.chatRequests) + len(h.speechRequests)
}

func (h *Handler) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	req := TranscriptionRequest{
		Model:       r.FormValue("model"),
		Language:    r.FormValue("language"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Audio:       audio,
	}

	h.logger.Debug("Transcription request received",
		slog.String("model", req.Model),
		slog.String("filename", req.Filename),
		slog.Int("audio_size", len(audio)),
	)

	h.mu.Lock()
	h.transcriptionRequests = append(h.transcriptionRequests, req)
	resp := h.transcription
	h.mu.Unlock()

	h.reply(w, r, resp)
}

// chatPayload is the subset of the chat completion request the fake reads
type chatPayload struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	req := ChatRequest{
		Model:       payload.Model,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	for _, m := range payload.Messages {
		req.Messages = append(req.Messages, ChatMessage{Role: m.Role, Content: messageText(m.Content)})
	}

	h.logger.Debug("Chat request received",
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
	)

	h.mu.Lock()
	h.chatRequests = append(h.chatRequests, req)
	resp := h.chat
	h.mu.Unlock()

	h.reply(w, r, resp)
}

// messageText flattens string or text-part content into plain text
func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}

func (h *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Model          string `json:"model"`
		Input          string `json:"input"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	req := SpeechRequest(payload)

	h.logger.Debug("Speech request received",
		slog.String("model", req.Model),
		slog.String("voice", req.Voice),
		slog.Int("input_length", len(req.Input)),
	)

	h.mu.Lock()
	h.speechRequests = append(h.speechRequests, req)
	resp := h.speech
	h.mu.Unlock()

	h.reply(w, r, resp)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, resp Response) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(status)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("Failed to write fake reply", slog.String("error", err.Error()))
	}
}

// Server is a running fake provider
type Server struct {
	*Handler
	httpServer *httptest.Server
}

// NewServer starts a fake provider on a loopback port
func NewServer() *Server {
	h := NewHandler(nil)
	return &Server{Handler: h, httpServer: httptest.NewServer(h)}
}

// URL returns the base URL to configure as the provider endpoint
func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) Close() {
	s.httpServer.Close()
}

// String implements fmt.Stringer for log output
func (s *Server) String() string {
	return fmt.Sprintf("providertest.Server{%s}", s.httpServer.URL)
}
