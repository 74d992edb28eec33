package bot

import (
	"math"
	"sync/atomic"
	"time"
)

// MovementState is the walk phase of a Movement automaton.
type MovementState int32

const (
	// MovementIdle indicates the bot is standing still.
	MovementIdle MovementState = iota
	// MovementMoving indicates the bot is walking towards a target.
	MovementMoving
)

func (s MovementState) String() string {
	switch s {
	case MovementIdle:
		return "idle"
	case MovementMoving:
		return "moving"
	default:
		return "unknown"
	}
}

// TickResult tells the scheduler whether to keep ticking an automaton.
type TickResult int

const (
	// Continue keeps the automaton scheduled.
	Continue TickResult = iota
	// Stop asks the scheduler to drop the automaton; its owner is gone.
	Stop
)

// Clock returns the current wall-clock time.
type Clock func() time.Time

// MovementConfig tunes the random walk.
//
// Cooldowns are counted in scheduler ticks; Interval is wall-clock time.
type MovementConfig struct {
	// Interval is the minimum wall-clock time between two pose packets.
	Interval time.Duration

	// StepSize is the distance covered per emitted step, in world units.
	StepSize float64

	// ArrivalThreshold is the distance below which the target counts as reached.
	ArrivalThreshold float64

	// MinDistance and MaxDistance bound the target distance, [min, max).
	MinDistance float64
	MaxDistance float64

	// CooldownMin and CooldownMax bound cooldown draws in ticks, inclusive.
	CooldownMin int
	CooldownMax int
}

// DefaultMovementConfig returns the walk used against a 20 tick/s server.
func DefaultMovementConfig() MovementConfig {
	return MovementConfig{
		Interval:         50 * time.Millisecond,
		StepSize:         0.15,
		ArrivalThreshold: 0.2,
		MinDistance:      2,
		MaxDistance:      5,
		CooldownMin:      20,
		CooldownMax:      59,
	}
}

// Actor is the part of a Bot the automaton drives.
type Actor interface {
	State() ConnState
	ShouldMove() bool
	Pose() Pose
	LastY() float64
	MoveTo(x, y, z float64, yaw, pitch float32) error
}

// Movement is the per-bot walking automaton.
//
// Tick is not safe for concurrent use; the fleet sweep is the only caller.
// State may be read from any goroutine.
type Movement struct {
	actor Actor
	cfg   MovementConfig
	rng   Random
	now   Clock

	state    atomic.Int32
	cooldown int

	x, z             float64
	targetX, targetZ float64
	yaw              float32
	lastEmit         time.Time
}

// NewMovement creates an Idle automaton bound to actor.
func NewMovement(actor Actor, cfg MovementConfig, rng Random, clock Clock) *Movement {
	if rng == nil {
		rng = NewRandom(uint64(time.Now().UnixNano()))
	}
	if clock == nil {
		clock = time.Now
	}
	return &Movement{
		actor: actor,
		cfg:   cfg,
		rng:   rng,
		now:   clock,
	}
}

// State returns the current walk phase.
func (m *Movement) State() MovementState {
	return MovementState(m.state.Load())
}

// Cooldown returns the remaining cooldown in ticks.
func (m *Movement) Cooldown() int { return m.cooldown }

// Position returns the simulated planar position.
func (m *Movement) Position() (x, z float64) { return m.x, m.z }

// Target returns the current target; ok is false while idle.
func (m *Movement) Target() (x, z float64, ok bool) {
	return m.targetX, m.targetZ, m.State() == MovementMoving
}

// LastEmit returns the wall-clock time of the last pose packet.
func (m *Movement) LastEmit() time.Time { return m.lastEmit }

// SetPosition re-anchors the simulated planar position, e.g. after a
// server teleport.
func (m *Movement) SetPosition(x, z float64) {
	m.x, m.z = x, z
}

// Tick advances the automaton by one scheduler tick.
func (m *Movement) Tick() TickResult {
	switch m.actor.State() {
	case StateDisconnected:
		return Stop
	case StatePending:
		return Continue
	}

	// Disabled movement freezes cooldown and state alike.
	if !m.actor.ShouldMove() {
		return Continue
	}

	if m.cooldown > 0 {
		m.cooldown--
	} else if m.State() == MovementIdle {
		if m.rng.Bool() {
			m.startMoving()
		}
	} else {
		m.halt()
	}

	if m.State() == MovementMoving {
		m.step()
	}
	return Continue
}

func (m *Movement) startMoving() {
	angle := m.rng.Float64() * 2 * math.Pi
	distance := m.cfg.MinDistance + m.rng.Float64()*(m.cfg.MaxDistance-m.cfg.MinDistance)

	m.targetX = m.x + math.Cos(angle)*distance
	m.targetZ = m.z + math.Sin(angle)*distance

	m.state.Store(int32(MovementMoving))
	// Time budget to reach the target.
	m.cooldown = m.drawCooldown()
}

func (m *Movement) halt() {
	m.state.Store(int32(MovementIdle))
	m.cooldown = m.drawCooldown()
}

func (m *Movement) drawCooldown() int {
	span := m.cfg.CooldownMax - m.cfg.CooldownMin + 1
	if span <= 1 {
		return max(m.cfg.CooldownMin, 0)
	}
	return m.cfg.CooldownMin + m.rng.IntN(span)
}

// step performs one rate-limited movement sub-step.
func (m *Movement) step() {
	now := m.now()
	if now.Sub(m.lastEmit) < m.cfg.Interval {
		return
	}

	dx := m.targetX - m.x
	dz := m.targetZ - m.z
	distance := math.Hypot(dx, dz)

	if distance < m.cfg.ArrivalThreshold {
		m.arrive(now)
		return
	}

	vx := dx / distance * m.cfg.StepSize
	vz := dz / distance * m.cfg.StepSize

	nx := m.x + vx
	nz := m.z + vz

	// Snap an axis to the target when stepping would cross it.
	if sign(dx) != sign(m.targetX-nx) {
		nx = m.targetX
	}
	if sign(dz) != sign(m.targetZ-nz) {
		nz = m.targetZ
	}

	m.x, m.z = nx, nz
	m.yaw = float32(math.Atan2(vz, vx)*180/math.Pi) - 90
	m.emit(now)
}

func (m *Movement) arrive(now time.Time) {
	snapped := m.x != m.targetX || m.z != m.targetZ
	m.x, m.z = m.targetX, m.targetZ
	m.halt()

	if snapped {
		m.emit(now)
	}
}

func (m *Movement) emit(now time.Time) {
	pitch := m.actor.Pose().Pitch
	// Transport failures are counted by the link; the walk goes on.
	_ = m.actor.MoveTo(m.x, m.actor.LastY(), m.z, m.yaw, pitch)
	m.lastEmit = now
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
