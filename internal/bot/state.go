// Package bot models a single simulated client: its identity, connection
// lifecycle, pose, and the movement automaton that walks it around.
package bot

import (
	"errors"
	"fmt"
)

// ConnState represents the connection lifecycle of a Bot.
type ConnState int32

const (
	// StatePending indicates the bot is registered but its spawn delay is outstanding.
	StatePending ConnState = iota
	// StateConnected indicates the bot has a live link and is being ticked.
	StateConnected
	// StateDisconnected indicates the bot was removed or dropped by the server.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Pose is the last committed position and orientation of a bot.
type Pose struct {
	X     float64 `json:"x" cbor:"x"`
	Y     float64 `json:"y" cbor:"y"`
	Z     float64 `json:"z" cbor:"z"`
	Yaw   float32 `json:"yaw" cbor:"yaw"`
	Pitch float32 `json:"pitch" cbor:"pitch"`
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f) yaw=%.1f pitch=%.1f", p.X, p.Y, p.Z, p.Yaw, p.Pitch)
}

// Link is the transport boundary for one connected bot.
//
// Emission is fire-and-forget: implementations enqueue and return, and a
// returned error only means the packet was not accepted.
type Link interface {
	// EmitPose sends a position/orientation update.
	EmitPose(p Pose) error
	// EmitChat sends a chat message or command.
	EmitChat(message string) error
	// TakeTeleport returns a server-imposed pose once, if one arrived since the last call.
	TakeTeleport() (Pose, bool)
	// Done is closed when the server drops the connection.
	Done() <-chan struct{}
	// Close tears down the connection without blocking on the network. It is
	// safe to call more than once.
	Close() error
}

var (
	// ErrNotConnected is returned when a bot without a live link is asked to emit.
	ErrNotConnected = errors.New("bot is not connected")
	// ErrEmptyMessage is returned by SendChat for blank messages.
	ErrEmptyMessage = errors.New("chat message is empty")
)
