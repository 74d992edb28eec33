package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// ErrMalformed is returned for server messages that cannot be decoded.
var ErrMalformed = errors.New("malformed server message")

// Codec encodes client packets and decodes server messages.
type Codec interface {
	Name() string
	// FrameType is the websocket message type used for encoded packets.
	FrameType() int
	Encode(v any) ([]byte, error)
	Decode(data []byte) (ServerMessage, error)
}

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "cbor":
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte) (ServerMessage, error) {
	if !gjson.ValidBytes(data) {
		return ServerMessage{}, ErrMalformed
	}
	r := gjson.ParseBytes(data)

	msg := ServerMessage{
		Type:       r.Get("type").String(),
		MaxPlayers: int(r.Get("max_players").Int()),
		Reason:     r.Get("reason").String(),
	}
	if msg.Type == "" {
		return ServerMessage{}, ErrMalformed
	}

	if x, z := r.Get("x"), r.Get("z"); x.Exists() && z.Exists() {
		msg.HasPose = true
		msg.Pose = bot.Pose{
			X:     x.Float(),
			Y:     r.Get("y").Float(),
			Z:     z.Float(),
			Yaw:   float32(r.Get("yaw").Float()),
			Pitch: float32(r.Get("pitch").Float()),
		}
	}
	return msg, nil
}

type cborCodec struct{}

func (cborCodec) Name() string   { return "cbor" }
func (cborCodec) FrameType() int { return websocket.BinaryMessage }

func (cborCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// cborServerMessage mirrors the server's CBOR map; pointers tell absent
// fields from zero values.
type cborServerMessage struct {
	Type       string   `cbor:"type"`
	X          *float64 `cbor:"x"`
	Y          float64  `cbor:"y"`
	Z          *float64 `cbor:"z"`
	Yaw        float32  `cbor:"yaw"`
	Pitch      float32  `cbor:"pitch"`
	MaxPlayers int      `cbor:"max_players"`
	Reason     string   `cbor:"reason"`
}

func (cborCodec) Decode(data []byte) (ServerMessage, error) {
	var raw cborServerMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type == "" {
		return ServerMessage{}, ErrMalformed
	}

	msg := ServerMessage{Type: raw.Type, MaxPlayers: raw.MaxPlayers, Reason: raw.Reason}
	if raw.X != nil && raw.Z != nil {
		msg.HasPose = true
		msg.Pose = bot.Pose{X: *raw.X, Y: raw.Y, Z: *raw.Z, Yaw: raw.Yaw, Pitch: raw.Pitch}
	}
	return msg, nil
}
