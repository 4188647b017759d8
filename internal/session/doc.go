// Package session runs one conversation per client connection. A session
// buffers audio fragments, drives each finished utterance through
// transcription, reply generation and speech synthesis, and keeps a bounded
// history of completed exchanges. The Registry tracks live sessions for
// monitoring and shutdown.
package session
