// ABOUTME: Signal frame codec for the KOOK gateway wire protocol.
// ABOUTME: Decodes inbound {s,d,sn} JSON frames and encodes outgoing pings.

package frame

import (
	"encoding/json"
	"fmt"
)

// Signal identifies the kind of gateway frame.
type Signal int

// Signal catalogue. Signal 4 is unused by the protocol subset we consume.
const (
	SignalEvent     Signal = 0
	SignalHello     Signal = 1
	SignalPing      Signal = 2
	SignalPong      Signal = 3
	SignalReconnect Signal = 5
	SignalResumeAck Signal = 6
)

// String returns a human-readable name for logging.
func (s Signal) String() string {
	switch s {
	case SignalEvent:
		return "event"
	case SignalHello:
		return "hello"
	case SignalPing:
		return "ping"
	case SignalPong:
		return "pong"
	case SignalReconnect:
		return "reconnect"
	case SignalResumeAck:
		return "resume_ack"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Frame is one gateway signal frame. Payload is kept raw so the session
// loop can forward event payloads without caring about their shape.
type Frame struct {
	Signal   Signal          `json:"s"`
	Payload  json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"sn,omitempty"`
}

// Decode parses a raw text frame from the gateway.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding signal frame: %w", err)
	}
	return &f, nil
}

// EncodePing serializes an outgoing heartbeat frame carrying the last
// sequence number seen by the session: {"s":2,"sn":<seq>}.
func EncodePing(sequence int64) ([]byte, error) {
	frame := struct {
		Signal   Signal `json:"s"`
		Sequence int64  `json:"sn"`
	}{
		Signal:   SignalPing,
		Sequence: sequence,
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding ping frame: %w", err)
	}
	return data, nil
}

// HelloPayload is the payload of a Hello (1) or ResumeAck (6) frame.
type HelloPayload struct {
	Code      int    `json:"code"`
	SessionID string `json:"session_id"`
}

// ParseHello extracts the session handshake payload from a frame.
func ParseHello(f *Frame) (*HelloPayload, error) {
	var p HelloPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding hello payload: %w", err)
	}
	return &p, nil
}
