package realtime

import (
	"encoding/json"

	"github.com/sharathr123/restochat/internal/chat"
)

// envelope is the wire shape of a server-originated frame: the event name
// plus its typed payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a chat event in its wire envelope.
func Encode(ev chat.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.EventType(), Data: data})
}
