package domain

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged entry in a session history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Requirement is the aggregated user request a synthesized turn answered.
	// Empty for drafts derived from documents or earlier turns.
	Requirement string `json:"requirement,omitempty"`
}

// History is the ordered sequence of turns for one session.
type History []Turn

// Last returns the most recently appended turn.
func (h History) Last() (Turn, bool) {
	if len(h) == 0 {
		return Turn{}, false
	}
	return h[len(h)-1], true
}

// TurnRecord is a persisted turn.
type TurnRecord struct {
	PK        string
	SK        string
	SessionID string
	Seq       int
	Role        Role
	Content     string
	Requirement string
	TTL         int64
}

// SessionMeta stores aggregate session state.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	LastActivity string
	Turns        int
	State        State
	TTL          int64
}
