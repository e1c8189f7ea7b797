// Package protocol defines the WebSocket messages exchanged between the
// server and external driver processes over the bridge.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Driver → Server messages
	TypePose   MessageType = "pose"   // Measured pose of the robot
	TypeResult MessageType = "result" // Outcome of an actuation request

	// Server → Driver messages
	TypeHello     MessageType = "hello"     // Sent once on connect
	TypeGoTo      MessageType = "go_to"     // Position target
	TypeVelocity  MessageType = "velocity"  // Velocity target
	TypeTakeoff   MessageType = "takeoff"   // Take off to a height
	TypeLand      MessageType = "land"      // Descend and stop motors
	TypeEmergency MessageType = "emergency" // Cut motors now

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Driver → Server Message Types
// =============================================================================

// PoseData is one pose measurement. Yaw is in degrees.
type PoseData struct {
	Position [3]float64 `json:"position"`
	Yaw      float64    `json:"yaw"`
	Stamp    int64      `json:"stamp,omitempty"` // Unix milliseconds, 0 = receipt time
}

// ResultData reports how the driver handled the request with sequence Seq.
type ResultData struct {
	Seq   uint64 `json:"seq"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// =============================================================================
// Server → Driver Message Types
// =============================================================================

// HelloData tells a driver which robot it is bound to.
type HelloData struct {
	Robot string `json:"robot"`
	ID    uint32 `json:"id"`
}

// GoToData is a position target. Relative targets are deltas from the
// current position. Yaw is in degrees.
type GoToData struct {
	Target   [3]float64 `json:"target"`
	Yaw      float64    `json:"yaw"`
	Duration float64    `json:"duration"`
	Relative bool       `json:"relative,omitempty"`
}

// VelocityData is a velocity target in m/s and deg/s.
type VelocityData struct {
	Linear   [3]float64 `json:"linear"`
	YawRate  float64    `json:"yaw_rate"`
	Duration float64    `json:"duration"`
}

// TakeoffData asks for a climb to Height metres.
type TakeoffData struct {
	Height   float64 `json:"height"`
	Duration float64 `json:"duration"`
}

// LandData asks for a descent over Duration seconds.
type LandData struct {
	Duration float64 `json:"duration"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
