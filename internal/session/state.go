package session

import "fmt"

// State is the lifecycle state of one conversation session
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateTranscribing
	StateGenerating
	StateSynthesizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Processing reports whether an utterance is in flight
func (s State) Processing() bool {
	return s == StateTranscribing || s == StateGenerating || s == StateSynthesizing
}

// Input is anything that can move the state machine.
// Keepalives are not inputs: they never change state.
type Input int

const (
	InputAudio          Input = iota // fragment appended
	InputEndUtterance                // boundary with enough audio
	InputShortUtterance              // boundary below the minimum size
	InputStageSucceeded              // current stage returned a usable result
	InputStageFailed                 // current stage failed or had nothing to pass on
)

func (i Input) String() string {
	switch i {
	case InputAudio:
		return "audio"
	case InputEndUtterance:
		return "end_utterance"
	case InputShortUtterance:
		return "short_utterance"
	case InputStageSucceeded:
		return "stage_succeeded"
	case InputStageFailed:
		return "stage_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(i))
	}
}

// transitions lists every valid (state, input) pair. Audio during processing
// is buffered for the next utterance without leaving the current state.
var transitions = map[State]map[Input]State{
	StateIdle: {
		InputAudio:          StateBuffering,
		InputEndUtterance:   StateTranscribing,
		InputShortUtterance: StateIdle,
	},
	StateBuffering: {
		InputAudio:          StateBuffering,
		InputEndUtterance:   StateTranscribing,
		InputShortUtterance: StateIdle,
	},
	StateTranscribing: {
		InputAudio:          StateTranscribing,
		InputStageSucceeded: StateGenerating,
		InputStageFailed:    StateIdle,
	},
	StateGenerating: {
		InputAudio:          StateGenerating,
		InputStageSucceeded: StateSynthesizing,
		InputStageFailed:    StateIdle,
	},
	StateSynthesizing: {
		InputAudio:          StateSynthesizing,
		InputStageSucceeded: StateIdle,
		InputStageFailed:    StateIdle,
	},
}

// Next returns the state reached from s on input. ok is false when the input
// is not valid in s; the caller must reject it and keep s.
func Next(s State, input Input) (next State, ok bool) {
	next, ok = transitions[s][input]
	if !ok {
		return s, false
	}
	return next, true
}

// AcceptsUtterance reports whether an utterance boundary may be processed in s
func AcceptsUtterance(s State) bool {
	_, ok := transitions[s][InputEndUtterance]
	return ok
}
