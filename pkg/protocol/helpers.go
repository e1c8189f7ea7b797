package protocol

import (
	"fmt"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewPoseMessage creates a pose message stamped now
func NewPoseMessage(position [3]float64, yaw float64) (*Message, error) {
	return NewMessage(TypePose, PoseData{
		Position: position,
		Yaw:      yaw,
		Stamp:    time.Now().UnixMilli(),
	})
}

// NewResultMessage acknowledges request seq. A nil err means success.
func NewResultMessage(seq uint64, err error) (*Message, error) {
	data := ResultData{Seq: seq, OK: err == nil}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(TypeResult, data)
}

func NewHelloMessage(robot string, id uint32) (*Message, error) {
	return NewMessage(TypeHello, HelloData{Robot: robot, ID: id})
}

func NewGoToMessage(target [3]float64, yaw, duration float64, relative bool) (*Message, error) {
	return NewMessage(TypeGoTo, GoToData{
		Target:   target,
		Yaw:      yaw,
		Duration: duration,
		Relative: relative,
	})
}

func NewVelocityMessage(linear [3]float64, yawRate, duration float64) (*Message, error) {
	return NewMessage(TypeVelocity, VelocityData{
		Linear:   linear,
		YawRate:  yawRate,
		Duration: duration,
	})
}

func NewTakeoffMessage(height, duration float64) (*Message, error) {
	return NewMessage(TypeTakeoff, TakeoffData{Height: height, Duration: duration})
}

func NewLandMessage(duration float64) (*Message, error) {
	return NewMessage(TypeLand, LandData{Duration: duration})
}

func NewEmergencyMessage() (*Message, error) {
	return NewMessage(TypeEmergency, nil)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// expect checks the message type before decoding its payload.
func (m *Message) expect(t MessageType, v any) error {
	if m.Type != t {
		return fmt.Errorf("expected %s message, got %s", t, m.Type)
	}
	return m.ParseData(v)
}

// GetPoseData extracts pose data from a message
func (m *Message) GetPoseData() (*PoseData, error) {
	var data PoseData
	if err := m.expect(TypePose, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetResultData() (*ResultData, error) {
	var data ResultData
	if err := m.expect(TypeResult, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.expect(TypeHello, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetGoToData() (*GoToData, error) {
	var data GoToData
	if err := m.expect(TypeGoTo, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetVelocityData() (*VelocityData, error) {
	var data VelocityData
	if err := m.expect(TypeVelocity, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetTakeoffData() (*TakeoffData, error) {
	var data TakeoffData
	if err := m.expect(TypeTakeoff, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (m *Message) GetLandData() (*LandData, error) {
	var data LandData
	if err := m.expect(TypeLand, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.expect(TypePing, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.expect(TypePong, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
