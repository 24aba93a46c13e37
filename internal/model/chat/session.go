package chat

// State is the lifecycle state of an assistant conversation.
type State string

const (
	StateIdle      State = "idle"
	StateAwaiting  State = "awaiting"
	StateStreaming State = "streaming"
	StateErrored   State = "errored"
)

// InFlight reports whether an exchange is open in this state.
func (s State) InFlight() bool {
	return s == StateAwaiting || s == StateStreaming
}

// Snapshot is a read-only copy of a conversation handed to observers.
type Snapshot struct {
	Messages  []Message `json:"messages"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	Available bool      `json:"available"`
}

// Last returns the final message of the snapshot, if any.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
