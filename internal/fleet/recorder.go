package fleet

import (
	"time"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventRejected     EventKind = "rejected"
)

// LifecycleEvent records a bot entering or leaving the fleet.
type LifecycleEvent struct {
	Tick     uint64    `json:"tick"`
	At       time.Time `json:"at"`
	BotID    string    `json:"botId,omitempty"`
	Nickname string    `json:"nickname"`
	Kind     EventKind `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
}

// PacketKind distinguishes pose and chat packets.
type PacketKind string

const (
	PacketPose PacketKind = "pose"
	PacketChat PacketKind = "chat"
)

// PacketEvent records one packet handed to the transport.
type PacketEvent struct {
	Tick     uint64     `json:"tick"`
	At       time.Time  `json:"at"`
	BotID    string     `json:"botId"`
	Nickname string     `json:"nickname"`
	Kind     PacketKind `json:"kind"`
	Pose     *bot.Pose  `json:"pose,omitempty"`
	Message  string     `json:"message,omitempty"`
	Failed   bool       `json:"failed,omitempty"`
}

// Recorder observes fleet activity.
//
// Methods are called from the scheduler sweep and from the control path
// concurrently. They must not block; implementations enqueue and return.
type Recorder interface {
	RecordLifecycle(ev LifecycleEvent)
	RecordPacket(ev PacketEvent)
}

// MultiRecorder fans events out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordLifecycle(ev LifecycleEvent) {
	for _, r := range m {
		r.RecordLifecycle(ev)
	}
}

func (m MultiRecorder) RecordPacket(ev PacketEvent) {
	for _, r := range m {
		r.RecordPacket(ev)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordLifecycle(LifecycleEvent) {}
func (nopRecorder) RecordPacket(PacketEvent)       {}
