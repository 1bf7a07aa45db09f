// Package protocol encodes servo commands into the compact serial protocol
// spoken by Maestro-style servo controllers.
//
// Every packet is four bytes:
//
//	[0] opcode (0x84 set position, 0x87 set speed)
//	[1] channel number, 0-based
//	[2] value bits 0-6
//	[3] value bits 7-13
//
// The controller reserves the high bit of every data byte, so values are
// carried as two 7-bit fields.
package protocol

import (
	"errors"
	"fmt"

	"github.com/banshee-data/servoshow/internal/calibration"
)

const (
	PacketSize = 4

	OpSetPosition byte = 0x84
	OpSetSpeed    byte = 0x87

	MaxChannel = 18
	MaxSpeed   = 255

	// Pulse bounds in microseconds, before calibration and scaling.
	MinPulse = 992
	MaxPulse = 2000

	// Scale converts microseconds into the controller's quarter-microsecond
	// units.
	Scale = 4

	dataMask = 0x7F
)

var (
	ErrChannelRange  = errors.New("channel out of range")
	ErrPositionRange = errors.New("position out of range")
	ErrSpeedRange    = errors.New("speed out of range")
	ErrBadPacket     = errors.New("malformed packet")
)

// ValidationError reports a command field outside its permitted range. It
// unwraps to one of ErrChannelRange, ErrPositionRange or ErrSpeedRange.
type ValidationError struct {
	Kind    error
	Channel int
	Value   int
	Min     int
	Max     int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("channel %d: %v: %d not in [%d, %d]", e.Channel, e.Kind, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Command is a logical servo command: move Channel to Target (scaled units)
// at ramp Speed.
type Command struct {
	Channel int `json:"channel"`
	Target  int `json:"target"`
	Speed   int `json:"speed"`
}

// Packet is a decoded wire packet.
type Packet struct {
	Op      byte
	Channel int
	Value   int
}

func (p Packet) String() string {
	switch p.Op {
	case OpSetPosition:
		return fmt.Sprintf("position ch=%d value=%d", p.Channel, p.Value)
	case OpSetSpeed:
		return fmt.Sprintf("speed ch=%d value=%d", p.Channel, p.Value)
	}
	return fmt.Sprintf("op=%#02x ch=%d value=%d", p.Op, p.Channel, p.Value)
}

// Encoder validates and encodes commands against a calibration table.
// Channels up to MaxChannel that the table does not cover are treated as
// uncalibrated, with a zero offset.
type Encoder struct {
	table *calibration.Table
}

// NewEncoder returns an Encoder bounded by table.
func NewEncoder(table *calibration.Table) *Encoder {
	return &Encoder{table: table}
}

// PositionBounds returns the inclusive scaled-position range for channel.
func (e *Encoder) PositionBounds(channel int) (lo, hi int) {
	off, _ := e.table.Lookup(channel)
	return (MinPulse + off) * Scale, (MaxPulse + off) * Scale
}

func checkChannel(channel int) error {
	if channel < 0 || channel > MaxChannel {
		return &ValidationError{Kind: ErrChannelRange, Channel: channel, Value: channel, Min: 0, Max: MaxChannel}
	}
	return nil
}

// EncodePosition builds a set-position packet for a scaled position.
func (e *Encoder) EncodePosition(channel, scaled int) ([]byte, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	lo, hi := e.PositionBounds(channel)
	if scaled < lo || scaled > hi {
		return nil, &ValidationError{Kind: ErrPositionRange, Channel: channel, Value: scaled, Min: lo, Max: hi}
	}
	return pack(OpSetPosition, channel, scaled), nil
}

// EncodeSpeed builds a set-speed packet.
func (e *Encoder) EncodeSpeed(channel, ramp int) ([]byte, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	if ramp < 0 || ramp > MaxSpeed {
		return nil, &ValidationError{Kind: ErrSpeedRange, Channel: channel, Value: ramp, Min: 0, Max: MaxSpeed}
	}
	return pack(OpSetSpeed, channel, ramp), nil
}

// EncodeCommand validates both packets of cmd and returns them in wire
// order, speed first so the ramp applies to the move. If either packet is
// invalid no packets are returned.
func (e *Encoder) EncodeCommand(cmd Command) ([][]byte, error) {
	speed, err := e.EncodeSpeed(cmd.Channel, cmd.Speed)
	if err != nil {
		return nil, err
	}
	pos, err := e.EncodePosition(cmd.Channel, cmd.Target)
	if err != nil {
		return nil, err
	}
	return [][]byte{speed, pos}, nil
}

func pack(op byte, channel, value int) []byte {
	return []byte{
		op,
		byte(channel),
		byte(value & dataMask),
		byte((value >> 7) & dataMask),
	}
}

// Decode parses a single packet produced by the encoder.
func Decode(pkt []byte) (Packet, error) {
	if len(pkt) != PacketSize {
		return Packet{}, fmt.Errorf("%w: length %d", ErrBadPacket, len(pkt))
	}
	if pkt[0] != OpSetPosition && pkt[0] != OpSetSpeed {
		return Packet{}, fmt.Errorf("%w: unknown opcode %#02x", ErrBadPacket, pkt[0])
	}
	if pkt[2]&^dataMask != 0 || pkt[3]&^dataMask != 0 {
		return Packet{}, fmt.Errorf("%w: high bit set in data byte", ErrBadPacket)
	}
	return Packet{
		Op:      pkt[0],
		Channel: int(pkt[1]),
		Value:   int(pkt[3])<<7 | int(pkt[2]),
	}, nil
}
