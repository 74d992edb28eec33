package ws

import "github.com/wesleyorama2/botswarm/internal/bot"

// Message types exchanged with the game server.
const (
	TypeHello    = "hello"
	TypeWelcome  = "welcome"
	TypeTeleport = "teleport"
	TypeKick     = "kick"
	TypePose     = "pose"
	TypeChat     = "chat"
)

// HelloMsg opens a session.
type HelloMsg struct {
	Type  string `json:"type" cbor:"type"`
	BotID string `json:"bot_id" cbor:"bot_id"`
	Name  string `json:"name" cbor:"name"`
}

// PoseMsg carries one movement update.
type PoseMsg struct {
	Type  string  `json:"type" cbor:"type"`
	BotID string  `json:"bot_id" cbor:"bot_id"`
	X     float64 `json:"x" cbor:"x"`
	Y     float64 `json:"y" cbor:"y"`
	Z     float64 `json:"z" cbor:"z"`
	Yaw   float32 `json:"yaw" cbor:"yaw"`
	Pitch float32 `json:"pitch" cbor:"pitch"`
}

// ChatMsg carries a chat line or command.
type ChatMsg struct {
	Type    string `json:"type" cbor:"type"`
	BotID   string `json:"bot_id" cbor:"bot_id"`
	Message string `json:"message" cbor:"message"`
}

// ServerMessage is the decoded form of anything the server sends.
type ServerMessage struct {
	Type string

	// Pose is set for welcome and teleport messages that carry a position.
	Pose    bot.Pose
	HasPose bool

	// MaxPlayers is the server's advertised player limit (welcome only).
	MaxPlayers int

	// Reason explains a kick.
	Reason string
}

func newPoseMsg(botID string, p bot.Pose) PoseMsg {
	return PoseMsg{Type: TypePose, BotID: botID, X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch}
}
