package comm

import (
	"fmt"
	"strconv"
	"strings"

	"encoding/base64"
)

// Structs

// Message represents a CRDT synchronization message between replicas.
// It consists of the numeric id of the originating agent, the version
// vector of the originating replica and an opaque payload, typically a
// serialized operation batch, to apply at the receiver's replica.
type Message struct {
	Sender  uint64
	VClock  map[uint64]uint64
	Payload []byte
}

// Functions

// InitMessage returns a fresh Message variable.
func InitMessage() *Message {

	return &Message{
		VClock: make(map[uint64]uint64),
	}
}

// String marshals given Message m into string representation so that it
// can be handed to the transport layer. The payload is base64-encoded
// because it may contain the pipe and semicolon delimiters.
func (m *Message) String() string {

	var vclockValues string

	// Merge together all vector clock entries.
	for id, value := range m.VClock {

		if vclockValues == "" {
			vclockValues = fmt.Sprintf("%d:%d", id, value)
		} else {
			vclockValues = fmt.Sprintf("%s;%d:%d", vclockValues, id, value)
		}
	}

	// Return final string representation.
	return fmt.Sprintf("%d|%s|%s", m.Sender, vclockValues, base64.StdEncoding.EncodeToString(m.Payload))
}

// Parse takes in supplied string representing a received sync message
// and parses it back into message struct form.
func Parse(msg string) (*Message, error) {

	// Initialize new message struct.
	m := InitMessage()

	// Remove attached newline symbol.
	msg = strings.TrimRight(msg, "\n")

	// Split message at pipe symbol at maximum two times.
	tmpMsg := strings.SplitN(msg, "|", 3)

	// Messages with less than three parts are discarded.
	if len(tmpMsg) < 3 {
		return nil, fmt.Errorf("invalid sync message")
	}

	// Check sender part of message.
	if len(tmpMsg[0]) < 1 {
		return nil, fmt.Errorf("invalid sync message because sender agent id is missing")
	}

	// Parse sender agent id.
	sender, err := strconv.ParseUint(tmpMsg[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sender agent id in sync message")
	}
	m.Sender = sender

	// An empty middle part denotes an empty vector clock.
	if tmpMsg[1] != "" {

		// Split middle part at semicolons for vector clock.
		tmpVClock := strings.Split(tmpMsg[1], ";")

		// Range over all vector clock entries.
		for _, pair := range tmpVClock {

			// Split at colon.
			c := strings.Split(pair, ":")

			// Vector clock entries with less than two parts are discarded.
			if len(c) < 2 {
				return nil, fmt.Errorf("invalid vector clock element")
			}

			// Parse agent id from string.
			id, err := strconv.ParseUint(c[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid agent id as element in vector clock")
			}

			// Parse clock value from string.
			value, err := strconv.ParseUint(c[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number as element in vector clock")
			}

			// Place vector clock entry in struct.
			m.VClock[id] = value
		}
	}

	// Decode base64 payload part of message.
	payload, err := base64.StdEncoding.DecodeString(tmpMsg[2])
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload in sync message")
	}
	m.Payload = payload

	// Initialize new message struct with parsed values.
	return m, nil
}
