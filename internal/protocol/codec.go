package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSequence is returned when a frame's top-level value is not an array
// of records. The whole frame is dropped in that case.
var ErrNotSequence = errors.New("frame is not a sequence of records")

// Message is a single tagged record decoded from a frame. Raw holds the full
// record so handlers can unmarshal into their packet type.
type Message struct {
	Cmd string
	Raw json.RawMessage
}

// Unmarshal decodes the record into the provided packet struct.
func (m Message) Unmarshal(v interface{}) error {
	return json.Unmarshal(m.Raw, v)
}

// Decode splits a frame into its tagged records. Records that are not objects
// or that lack a cmd tag are skipped rather than failing the frame; the
// number of skipped records is returned so the caller can log them. A frame
// whose top-level value is not a sequence fails as a whole.
func Decode(frame []byte) ([]Message, int, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(frame, &records); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotSequence, err)
	}

	var skipped int
	messages := make([]Message, 0, len(records))
	for _, raw := range records {
		var tag struct {
			Cmd string `json:"cmd"`
		}
		if err := json.Unmarshal(raw, &tag); err != nil || tag.Cmd == "" {
			skipped++
			continue
		}
		messages = append(messages, Message{Cmd: tag.Cmd, Raw: raw})
	}

	return messages, skipped, nil
}

// Encode wraps a single tagged record into a one-element frame. The client
// side of the protocol always sends one record per frame.
func Encode(packet interface{}) ([]byte, error) {
	frame, err := json.Marshal([]interface{}{packet})
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", packet, err)
	}
	return frame, nil
}
