package domain

// Role is a participant's declared role in a room. Roles come from the client
// and are not enforced server-side.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleAttendee  Role = "attendee"
)

// ChatMessage is one chat entry. Messages are append-only and retained for
// the room's lifetime.
type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// QuestionPhase tracks the lifecycle of a room's current question.
type QuestionPhase int

const (
	// PhaseIdle means no question has been published yet.
	PhaseIdle QuestionPhase = iota
	// PhaseOpen means a question is published and accepting votes.
	PhaseOpen
	// PhaseClosed means the question timer fired and results are final.
	// Only a new publish leaves this phase.
	PhaseClosed
)

// JoinSnapshot is everything a newly joined connection needs to catch up:
// the open question (if any) with its remaining seconds, and the full chat
// backlog. Messages is never nil so an empty backlog serializes as [].
type JoinSnapshot struct {
	Active    bool
	Question  string
	Options   []string
	Remaining int
	Messages  []ChatMessage
}
