// Package transcription implements the speech-to-text stage.
// The accumulated utterance is uploaded unmodified to the provider's
// transcriptions endpoint with a filename hint matching its container.
package transcription
