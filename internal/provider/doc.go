// Package provider holds the plumbing shared by the transcription, persona
// and synthesis clients: the stage error taxonomy, the OpenAI-compatible API
// client builder, a process-wide concurrency limiter and request statistics.
package provider
