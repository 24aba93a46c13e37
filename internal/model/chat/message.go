package chat

import "time"

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Text only grows while Streaming is true.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Streaming bool      `json:"streaming"`
}

// Turn is the wire shape of a history entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
