// Package persona implements the text generation stage: a fixed character
// instruction plus a bounded window of the conversation is sent to a chat
// completion model, which returns the persona's next turn.
package persona
