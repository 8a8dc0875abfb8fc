package transport

import (
	"github.com/google/uuid"
)

// Message is a single unit of delivery between nodes.  Kind names the
// application-level handler the message is destined for and Body is an
// opaque payload the transport never interprets.
type Message struct {
	ID   uuid.UUID
	Kind string
	Body []byte
}

// NewMessage builds a message with a freshly generated identifier.
func NewMessage(kind string, body []byte) *Message {
	return &Message{
		ID:   uuid.New(),
		Kind: kind,
		Body: body,
	}
}
