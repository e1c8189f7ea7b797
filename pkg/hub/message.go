// Package hub fans telemetry out to dashboard websocket clients using a
// single goroutine that owns the client set.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType is how a payload is framed on the socket.
type MessageType int

const (
	JSONMessage MessageType = iota
	// BinaryMessage carries a CBOR-encoded event
	BinaryMessage
)

// Message is one broadcast payload, already encoded.
type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Encoded wraps a payload produced by the named codec. Only "cbor" is
// framed as binary.
func Encoded(codecName string, data []byte) Message {
	if codecName == "cbor" {
		return NewBinaryMessage(data)
	}
	return NewJSONMessage(data)
}

// frameType returns the websocket opcode for m.
func (m Message) frameType() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
