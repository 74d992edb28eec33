package bot

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Options configures a new Bot.
type Options struct {
	// ID is the stable unique identifier.
	ID string

	// Nickname is the display name; uniqueness is enforced by the fleet.
	Nickname string

	// ConnectAt is the scheduler tick at which the bot becomes Connected.
	ConnectAt uint64

	// ShouldMove is the initial movement flag.
	ShouldMove bool

	// Movement tunes the automaton. Zero value means DefaultMovementConfig.
	Movement MovementConfig

	// Random drives the automaton. Nil means a time-seeded generator.
	Random Random

	// Clock is the wall clock used for emission gating. Nil means time.Now.
	Clock Clock
}

// Bot is one simulated client.
//
// Each Bot has its own:
// - Connection state (atomic for lock-free reads)
// - Pose, mutated only through MoveTo and Teleport
// - Movement automaton, created with the bot and dropped on disconnect
//
// State transitions (Connect, Teleport, Disconnect) are driven by the fleet
// supervisor, which serializes them against the automaton sweep.
type Bot struct {
	id        string
	nickname  string
	connectAt uint64

	state         atomic.Int32
	shouldMove    atomic.Bool
	connectedTick atomic.Uint64

	mu       sync.RWMutex
	pose     Pose
	link     Link
	movement *Movement
}

// New creates a Pending bot together with its movement automaton.
func New(opts Options) *Bot {
	b := &Bot{
		id:        opts.ID,
		nickname:  opts.Nickname,
		connectAt: opts.ConnectAt,
	}
	b.state.Store(int32(StatePending))
	b.shouldMove.Store(opts.ShouldMove)

	cfg := opts.Movement
	if cfg == (MovementConfig{}) {
		cfg = DefaultMovementConfig()
	}
	b.movement = NewMovement(b, cfg, opts.Random, opts.Clock)
	return b
}

// ID returns the bot's stable identifier.
func (b *Bot) ID() string { return b.id }

// Nickname returns the bot's display name.
func (b *Bot) Nickname() string { return b.nickname }

// ConnectAt returns the tick at which a pending bot is due to connect.
func (b *Bot) ConnectAt() uint64 { return b.connectAt }

// ConnectedTick returns the tick at which the bot connected, or 0 if it never did.
func (b *Bot) ConnectedTick() uint64 { return b.connectedTick.Load() }

// State returns the current connection state.
func (b *Bot) State() ConnState {
	return ConnState(b.state.Load())
}

// IsConnected reports whether the bot has a live link.
func (b *Bot) IsConnected() bool {
	return b.State() == StateConnected
}

// ShouldMove reports whether the automaton is allowed to run.
func (b *Bot) ShouldMove() bool {
	return b.shouldMove.Load()
}

// SetShouldMove toggles movement. It takes effect on the next tick.
func (b *Bot) SetShouldMove(enabled bool) {
	b.shouldMove.Store(enabled)
}

// Pose returns the last committed pose.
func (b *Bot) Pose() Pose {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pose
}

// LastY returns the committed vertical coordinate.
func (b *Bot) LastY() float64 {
	return b.Pose().Y
}

// Movement returns the bot's automaton, or nil once the bot has disconnected.
func (b *Bot) Movement() *Movement {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.movement
}

// MoveTo commits a new pose and forwards it to the transport.
//
// The pose is committed even if the transport rejects the packet; the next
// update is computed from the simulated pose, not from acknowledgements.
func (b *Bot) MoveTo(x, y, z float64, yaw, pitch float32) error {
	b.mu.Lock()
	if b.State() != StateConnected || b.link == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.pose = Pose{X: x, Y: y, Z: z, Yaw: yaw, Pitch: pitch}
	pose, link := b.pose, b.link
	b.mu.Unlock()

	return link.EmitPose(pose)
}

// SendChat forwards a chat message or command to the transport.
func (b *Bot) SendChat(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}

	b.mu.RLock()
	link := b.link
	b.mu.RUnlock()

	if link == nil || !b.IsConnected() {
		return ErrNotConnected
	}
	return link.EmitChat(message)
}

// Connect moves a pending bot to Connected over the given link.
// It returns false if the bot was not pending.
func (b *Bot) Connect(link Link, tick uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StatePending), int32(StateConnected)) {
		return false
	}
	b.link = link
	b.connectedTick.Store(tick)
	return true
}

// Teleport overrides the pose with one imposed by the server and re-anchors
// the automaton there.
func (b *Bot) Teleport(p Pose) {
	b.mu.Lock()
	b.pose = p
	m := b.movement
	b.mu.Unlock()

	if m != nil {
		m.SetPosition(p.X, p.Z)
	}
}

// Disconnect marks the bot Disconnected, drops its automaton and closes the
// link. It returns false if the bot was already disconnected.
func (b *Bot) Disconnect() bool {
	b.mu.Lock()
	prev := ConnState(b.state.Swap(int32(StateDisconnected)))
	if prev == StateDisconnected {
		b.mu.Unlock()
		return false
	}
	link := b.link
	b.link = nil
	b.movement = nil
	b.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
	return true
}

// Link returns the bot's transport link, or nil if it has none.
func (b *Bot) Link() Link {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.link
}

func (b *Bot) String() string {
	b.mu.RLock()
	pose := b.pose
	m := b.movement
	b.mu.RUnlock()

	walk := "none"
	if m != nil {
		walk = m.State().String()
	}
	return fmt.Sprintf("Bot{name=%s, id=%s, state=%s, move=%t, walk=%s, pos=%s}",
		b.nickname, b.id, b.State(), b.ShouldMove(), walk, pose)
}
