package layer

import (
	"encoding/json"
	"fmt"
	"strings"

	"tilepipe/internal/services"
)

// Message is the payload handed between stages. Field names on the wire are
// fixed so producers in other services can enqueue work directly.
type Message struct {
	JobID          string `json:"LayerId"`
	SourceLocation string `json:"DataLocation,omitempty"`
	LayerName      string `json:"LayerName"`
	Description    string `json:"Description,omitempty"`
}

// Encode serializes the message for a queue body.
func (m Message) Encode() ([]byte, error) {
	if strings.TrimSpace(m.JobID) == "" {
		return nil, services.Wrap(services.ErrPayload, "", "encode message", "job id required", nil)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// HasSource reports whether the message points at data to convert. Messages
// without a source are acknowledged without conversion.
func (m Message) HasSource() bool {
	return strings.TrimSpace(m.SourceLocation) != ""
}

// Next returns the message for the following stage with a new source location.
func (m Message) Next(location string) Message {
	return Message{
		JobID:          m.JobID,
		SourceLocation: location,
		LayerName:      m.LayerName,
		Description:    m.Description,
	}
}

// DecodeMessage parses a queue body. Malformed JSON or a missing job id
// yields an error marked services.ErrPayload.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, services.Wrap(services.ErrPayload, "", "decode message", "malformed json", err)
	}
	msg.JobID = strings.TrimSpace(msg.JobID)
	msg.SourceLocation = strings.TrimSpace(msg.SourceLocation)
	if msg.JobID == "" {
		return Message{}, services.Wrap(services.ErrPayload, "", "decode message", "missing LayerId", nil)
	}
	return msg, nil
}
