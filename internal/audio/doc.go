// Package audio handles per-utterance audio accumulation and container sniffing.
// Compressed audio is never decoded or re-encoded here; fragments are stored as
// received and handed on as one contiguous buffer.
package audio
