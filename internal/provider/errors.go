package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// Stage names one external capability call of the pipeline
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageGeneration    Stage = "generation"
	StageSynthesis     Stage = "synthesis"
)

// Kind classifies a stage failure
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindProviderFailure   Kind = "provider_failure"
	KindEmptyResult       Kind = "empty_result"
	KindMalformedResponse Kind = "malformed_response"
)

// Error is the single failure type returned by every capability client.
// Callers switch on Kind, never on the wrapped cause.
type Error struct {
	Stage      Stage
	Kind       Kind
	Message    string
	StatusCode int // HTTP status from the provider, 0 when none was received
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail is the short description forwarded to clients
func (e *Error) Detail() string {
	switch e.Kind {
	case KindTimeout:
		return "request timed out"
	case KindProviderFailure:
		if e.StatusCode != 0 {
			return fmt.Sprintf("provider returned status %d", e.StatusCode)
		}
		return e.Message
	default:
		return e.Message
	}
}

// NewError builds an Error without an underlying cause
func NewError(stage Stage, kind Kind, message string) *Error {
	return &Error{Stage: stage, Kind: kind, Message: message}
}

// Classify converts an error from a provider call into an *Error.
// Deadline expiry maps to KindTimeout, everything else to KindProviderFailure.
// An existing *Error is returned unchanged.
func Classify(stage Stage, err error) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Stage: stage, Kind: KindTimeout, Message: "deadline exceeded", Cause: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Stage:      stage,
			Kind:       KindProviderFailure,
			Message:    "provider rejected request",
			StatusCode: apiErr.StatusCode,
			Cause:      err,
		}
	}

	return &Error{Stage: stage, Kind: KindProviderFailure, Message: "request failed", Cause: err}
}

// AsError extracts an *Error from err
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
