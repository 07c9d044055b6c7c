// Package wire implements the client<->server message taxonomy and the two
// framings of spec §4.H: a length-prefixed binary frame and a JSON framing
// that carries the same fields for testing and debugging.
//
// Grounded on the teacher's internal/types (ProtocolMessage{Type, NetworkID,
// SenderID, Timestamp, Payload}) and internal/network/network_manager.go's
// line-delimited JSON-over-TCP framing, generalized here to the spec's
// fixed binary header plus JSON payload.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/synckit/core/internal/errs"
)

// Type is the single-byte message type discriminator.
type Type byte

const (
	Auth             Type = 0x01
	AuthSuccess      Type = 0x02
	AuthError        Type = 0x03
	Subscribe        Type = 0x10
	Unsubscribe      Type = 0x11
	SyncRequest      Type = 0x12
	SyncResponse     Type = 0x13
	Delta            Type = 0x20
	Ack              Type = 0x21
	Ping             Type = 0x30
	Pong             Type = 0x31
	AwarenessUpdate  Type = 0x40
	AwarenessSub     Type = 0x41
	AwarenessState   Type = 0x42
	ErrorMessage     Type = 0xFF
)

var typeNames = map[Type]string{
	Auth:            "auth",
	AuthSuccess:     "auth_success",
	AuthError:       "auth_error",
	Subscribe:       "subscribe",
	Unsubscribe:     "unsubscribe",
	SyncRequest:     "sync_request",
	SyncResponse:    "sync_response",
	Delta:           "delta",
	Ack:             "ack",
	Ping:            "ping",
	Pong:            "pong",
	AwarenessUpdate: "awareness_update",
	AwarenessSub:    "awareness_subscribe",
	AwarenessState:  "awareness_state",
	ErrorMessage:    "error",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// minFrameSize is the smallest legal binary frame: 1 (type) + 8 (timestamp)
// + 4 (payloadLen) bytes, with zero-length payload.
const minFrameSize = 13

// Message is one protocol message in either framing.
type Message struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EncodeBinary writes the binary frame: type(1B) | timestamp(int64 BE) |
// payloadLen(uint32 BE) | payload.
func EncodeBinary(m Message) ([]byte, error) {
	if uint64(len(m.Payload)) > uint64(^uint32(0)>>1) {
		return nil, errs.New(errs.ProtocolError, "wire.EncodeBinary", nil)
	}
	buf := make([]byte, minFrameSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint64(buf[1:9], uint64(m.Timestamp))
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(m.Payload)))
	copy(buf[13:], m.Payload)
	return buf, nil
}

// DecodeBinary parses a single binary frame from buf. It returns the
// message, the number of bytes consumed, and an error. A frame shorter than
// minFrameSize, or whose declared payload length overruns buf, is a
// ProtocolError (spec §4.H: "shorter frames are discarded with a warning").
func DecodeBinary(buf []byte) (Message, int, error) {
	if len(buf) < minFrameSize {
		return Message{}, 0, errs.New(errs.ProtocolError, "wire.DecodeBinary", nil)
	}
	typ := Type(buf[0])
	ts := int64(binary.BigEndian.Uint64(buf[1:9]))
	payloadLen := binary.BigEndian.Uint32(buf[9:13])
	total := minFrameSize + int(payloadLen)
	if len(buf) < total {
		return Message{}, 0, errs.New(errs.ProtocolError, "wire.DecodeBinary", nil)
	}
	payload := make(json.RawMessage, payloadLen)
	copy(payload, buf[13:total])
	return Message{Type: typ, Timestamp: ts, Payload: payload}, total, nil
}

// jsonMessage mirrors Message but with the type rendered as its
// snake_case tag rather than the raw byte, per spec §4.H.
type jsonMessage struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EncodeJSON renders m using the snake_case enum tag framing.
func EncodeJSON(m Message) ([]byte, error) {
	return json.Marshal(jsonMessage{
		Type:      m.Type.String(),
		Timestamp: m.Timestamp,
		Payload:   m.Payload,
	})
}

// DecodeJSON parses the JSON framing back into a Message. decode(encode(m))
// reproduces m field-for-field (spec §4.H: the two framings are
// bit-compatible over the same taxonomy).
func DecodeJSON(data []byte) (Message, error) {
	var jm jsonMessage
	if err := json.Unmarshal(data, &jm); err != nil {
		return Message{}, errs.New(errs.ProtocolError, "wire.DecodeJSON", err)
	}
	typ, ok := typeByName(jm.Type)
	if !ok {
		return Message{}, errs.New(errs.ProtocolError, "wire.DecodeJSON", nil)
	}
	return Message{Type: typ, Timestamp: jm.Timestamp, Payload: jm.Payload}, nil
}

func typeByName(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}
