package stream

import "github.com/zhouzirui/crm-assistant/internal/model/chat"

// Kind discriminates protocol events.
type Kind int

const (
	Connected Kind = iota
	Delta
	Completed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Delta:
		return "delta"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol event. Text is set for Delta, Reason for Failed.
type Event struct {
	Kind   Kind
	Text   string
	Reason string
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Kind == Completed || e.Kind == Failed
}

// Consumer receives events in wire order from a single read loop.
type Consumer func(Event)

// Request is the JSON body posted to open a stream.
type Request struct {
	Message string      `json:"message"`
	History []chat.Turn `json:"history"`
}

// frame is the JSON record carried by each data block.
type frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	frameConnected = "connected"
	frameMessage   = "message"
	frameCompleted = "completed"
	frameError     = "error"
)
