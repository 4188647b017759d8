package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	audio := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0x01}
	encoded := base64.StdEncoding.EncodeToString(audio)

	tests := []struct {
		name        string
		frame       string
		expected    Inbound
		expectError bool
		errorMsg    string
	}{
		{
			name:     "audio chunk",
			frame:    `{"type":"audio_chunk","data":"` + encoded + `"}`,
			expected: Inbound{Type: TypeAudioChunk, Audio: audio},
		},
		{
			name:     "empty audio chunk",
			frame:    `{"type":"audio_chunk","data":""}`,
			expected: Inbound{Type: TypeAudioChunk, Audio: []byte{}},
		},
		{
			name:     "end utterance",
			frame:    `{"type":"end_utterance"}`,
			expected: Inbound{Type: TypeEndUtterance},
		},
		{
			name:     "ping with extra fields",
			frame:    `{"type":"ping","ts":12345}`,
			expected: Inbound{Type: TypePing},
		},
		{
			name:        "not json",
			frame:       `hello`,
			expectError: true,
			errorMsg:    "invalid JSON",
		},
		{
			name:        "missing type",
			frame:       `{"data":"AAAA"}`,
			expectError: true,
			errorMsg:    "missing type field",
		},
		{
			name:        "unknown type",
			frame:       `{"type":"interrupt"}`,
			expectError: true,
			errorMsg:    "unknown event type",
		},
		{
			name:        "audio chunk without data",
			frame:       `{"type":"audio_chunk"}`,
			expectError: true,
			errorMsg:    "missing data field",
		},
		{
			name:        "audio chunk with invalid base64",
			frame:       `{"type":"audio_chunk","data":"!!not base64!!"}`,
			expectError: true,
			errorMsg:    "invalid base64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.frame))

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)

				var perr *ProtocolError
				assert.True(t, errors.As(err, &perr), "expected *ProtocolError, got %T", err)
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestOutboundWireShape(t *testing.T) {
	tests := []struct {
		name     string
		event    Outbound
		expected string
	}{
		{
			name:     "chunk received",
			event:    ChunkReceived(2),
			expected: `{"type":"chunk_received","buffer_size":2}`,
		},
		{
			name:     "status",
			event:    Status(StageTranscribing, "Transcribing..."),
			expected: `{"type":"status","message":"Transcribing...","stage":"transcribing"}`,
		},
		{
			name:     "transcript",
			event:    Transcript("hello"),
			expected: `{"type":"transcript","text":"hello"}`,
		},
		{
			name:     "response text",
			event:    ResponseText("Hi, it's handled."),
			expected: `{"type":"response_text","text":"Hi, it's handled."}`,
		},
		{
			name:     "audio response",
			event:    AudioResponse([]byte("0123456789"), "mp3"),
			expected: `{"type":"audio_response","audio":"MDEyMzQ1Njc4OQ==","format":"mp3"}`,
		},
		{
			name:     "error",
			event:    Error(ReasonTooShort, "Audio too short, please try again"),
			expected: `{"type":"error","message":"Audio too short, please try again","reason":"too_short"}`,
		},
		{
			name:     "pong",
			event:    Pong(),
			expected: `{"type":"pong"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.event.Encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestAudioResponseBytes(t *testing.T) {
	payload := []byte{0xFF, 0xFB, 0x90, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	data, err := AudioResponse(payload, "mp3").Encode()
	require.NoError(t, err)

	decoded, err := DecodeOutbound(data)
	require.NoError(t, err)
	assert.Equal(t, TypeAudioResponse, decoded.Type)
	assert.Equal(t, "mp3", decoded.Format)

	audio, err := decoded.AudioBytes()
	require.NoError(t, err)
	assert.Equal(t, payload, audio)
}

func TestChunkReceivedKeepsZero(t *testing.T) {
	// buffer_size is a pointer so a zero count still appears on the wire
	data, err := ChunkReceived(0).Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "buffer_size")
}

func TestOutboundString(t *testing.T) {
	assert.Equal(t, "chunk_received{buffer_size:3}", ChunkReceived(3).String())
	assert.Equal(t, "status{thinking}", Status(StageThinking, "Donna is thinking...").String())
	assert.Equal(t, `transcript{"hello"}`, Transcript("hello").String())
	assert.Equal(t, "error{busy: still working}", Error(ReasonBusy, "still working").String())
	assert.Equal(t, "pong", Pong().String())
}
