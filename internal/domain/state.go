package domain

// State is the pipeline position of a session.
type State string

const (
	StateIdle         State = "idle"
	StateSynthesizing State = "synthesizing"
	StateSynthesized  State = "synthesized"
	StateAugmenting   State = "augmenting"
	StateAugmented    State = "augmented"
	StateRendering    State = "rendering"
	StateRendered     State = "rendered"
)

// IsRest reports whether a session can linger in s between actions.
func (s State) IsRest() bool {
	switch s {
	case StateIdle, StateSynthesized, StateAugmented, StateRendered:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateSynthesizing, StateSynthesized, StateAugmenting,
		StateAugmented, StateRendering, StateRendered:
		return true
	}
	return false
}
