// Package providertest provides an in-process fake of the OpenAI-compatible
// inference API (transcriptions, chat completions, speech) for tests and for
// local development without provider credentials.
package providertest
