// Package protocol implements the JSON event codec of the voice channel.
// It decodes inbound client events (audio fragments, utterance boundaries,
// liveness checks) and builds the outbound events a session emits for each
// pipeline stage.
package protocol
