package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event types
const (
	TypeAudioChunk   = "audio_chunk"
	TypeEndUtterance = "end_utterance"
	TypePing         = "ping"
)

// Outbound event types
const (
	TypeChunkReceived = "chunk_received"
	TypeStatus        = "status"
	TypeTranscript    = "transcript"
	TypeResponseText  = "response_text"
	TypeAudioResponse = "audio_response"
	TypeError         = "error"
	TypePong          = "pong"
)

// Status stages carried in status events
const (
	StageTranscribing = "transcribing"
	StageThinking     = "thinking"
	StageSpeaking     = "speaking"
)

// Error reasons carried in error events
const (
	ReasonTooShort            = "too_short"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonCouldNotUnderstand  = "could_not_understand"
	ReasonChatFailed          = "chat_failed"
	ReasonSpeechFailed        = "speech_failed"
	ReasonMalformedMessage    = "malformed_message"
	ReasonBusy                = "busy"
)

// ErrMalformed is wrapped by every ProtocolError
var ErrMalformed = errors.New("malformed inbound message")

// ProtocolError reports an inbound frame that could not be interpreted.
// It never terminates the connection.
type ProtocolError struct {
	Type string // event type, empty when the frame was not JSON
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%v: %v", ErrMalformed, e.Err)
	}
	return fmt.Sprintf("%v (type %q): %v", ErrMalformed, e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// Inbound is one decoded client event
type Inbound struct {
	Type  string
	Audio []byte // set for audio_chunk only
}

// inboundFrame is the raw JSON shape shared by all inbound events
type inboundFrame struct {
	Type string  `json:"type"`
	Data *string `json:"data"`
}

// DecodeInbound parses one text frame into an Inbound event.
// Any failure is returned as a *ProtocolError.
func DecodeInbound(data []byte) (Inbound, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Inbound{}, &ProtocolError{Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	switch frame.Type {
	case TypeAudioChunk:
		if frame.Data == nil {
			return Inbound{}, &ProtocolError{Type: frame.Type, Err: errors.New("missing data field")}
		}
		audio, err := base64.StdEncoding.DecodeString(*frame.Data)
		if err != nil {
			return Inbound{}, &ProtocolError{Type: frame.Type, Err: fmt.Errorf("invalid base64 data: %w", err)}
		}
		return Inbound{Type: frame.Type, Audio: audio}, nil

	case TypeEndUtterance, TypePing:
		return Inbound{Type: frame.Type}, nil

	case "":
		return Inbound{}, &ProtocolError{Err: errors.New("missing type field")}

	default:
		return Inbound{}, &ProtocolError{Type: frame.Type, Err: errors.New("unknown event type")}
	}
}

// Outbound is one server event. Only the fields relevant to Type are set.
type Outbound struct {
	Type       string `json:"type"`
	BufferSize *int   `json:"buffer_size,omitempty"`
	Message    string `json:"message,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Format     string `json:"format,omitempty"`
}

// ChunkReceived acknowledges one fragment; count is the number of buffered fragments
func ChunkReceived(count int) Outbound {
	return Outbound{Type: TypeChunkReceived, BufferSize: &count}
}

// Status reports that a pipeline stage has started
func Status(stage, message string) Outbound {
	return Outbound{Type: TypeStatus, Stage: stage, Message: message}
}

func Transcript(text string) Outbound {
	return Outbound{Type: TypeTranscript, Text: text}
}

func ResponseText(text string) Outbound {
	return Outbound{Type: TypeResponseText, Text: text}
}

// AudioResponse carries synthesized audio, base64 encoded on the wire
func AudioResponse(audio []byte, format string) Outbound {
	return Outbound{
		Type:   TypeAudioResponse,
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Format: format,
	}
}

// Error reports a recoverable failure
func Error(reason, message string) Outbound {
	return Outbound{Type: TypeError, Reason: reason, Message: message}
}

func Pong() Outbound {
	return Outbound{Type: TypePong}
}

// Encode marshals the event into a text frame
func (o Outbound) Encode() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", o.Type, err)
	}
	return data, nil
}

// DecodeOutbound parses a server frame. Used by clients and tests.
func DecodeOutbound(data []byte) (Outbound, error) {
	var o Outbound
	if err := json.Unmarshal(data, &o); err != nil {
		return Outbound{}, fmt.Errorf("failed to decode outbound event: %w", err)
	}
	return o, nil
}

// AudioBytes decodes the base64 audio of an audio_response event
func (o Outbound) AudioBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(o.Audio)
}

// String returns a short human-readable representation
func (o Outbound) String() string {
	switch o.Type {
	case TypeChunkReceived:
		n := 0
		if o.BufferSize != nil {
			n = *o.BufferSize
		}
		return fmt.Sprintf("chunk_received{buffer_size:%d}", n)
	case TypeStatus:
		return fmt.Sprintf("status{%s}", o.Stage)
	case TypeTranscript, TypeResponseText:
		return fmt.Sprintf("%s{%q}", o.Type, o.Text)
	case TypeAudioResponse:
		return fmt.Sprintf("audio_response{format:%s, audio_len:%d}", o.Format, len(o.Audio))
	case TypeError:
		return fmt.Sprintf("error{%s: %s}", o.Reason, o.Message)
	default:
		return o.Type
	}
}
