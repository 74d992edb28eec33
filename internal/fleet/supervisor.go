// Package fleet supervises a fleet of simulated bots: it creates, indexes,
// staggers and removes them, and drives every automaton once per tick.
package fleet

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/botswarm/internal/bot"
	"github.com/wesleyorama2/botswarm/internal/metrics"
	"github.com/wesleyorama2/botswarm/internal/rate"
)

const (
	// DefaultTickRate matches the host simulation's 20 ticks per second.
	DefaultTickRate = 20.0

	// DefaultNamePrefix is used for generated nicknames.
	DefaultNamePrefix = "Bot_"

	// catchUpTicks bounds how many overdue ticks run back to back after a
	// slow sweep.
	catchUpTicks = 5
)

// Transport opens connections for bots.
//
// Open must not block: it returns a link immediately and connects in the
// background, queueing packets until the connection is up.
type Transport interface {
	Open(id, nickname string) bot.Link
}

// Stats is a point-in-time count of the fleet.
type Stats struct {
	Tick      uint64
	Pending   int
	Connected int
	Total     int
	Limit     int // 0 means unbounded
}

// Supervisor is the single authority over the bot registry.
//
// It provides:
// - Bot creation with name generation, collision and capacity checks
// - Staggered connection of pending bots
// - One sweep per tick over every live automaton
// - Removal that deregisters the automaton before the bot is discarded
//
// # Thread Safety
//
// All registry reads and writes happen under one mutex. The control path
// (CreateBot, DisconnectBot, ...) and the scheduler path (Tick) therefore
// never interleave, and a removed bot's automaton cannot be ticked again
// once DisconnectBot returns.
type Supervisor struct {
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Engine
	recorder  Recorder
	clock     bot.Clock

	maxBots       int
	capacity      func() int
	movement      bot.MovementConfig
	namePrefix    string
	moveByDefault bool
	tickRate      float64
	seed          uint64

	tick atomic.Uint64

	mu     sync.Mutex
	bots   []*bot.Bot          // live bots in creation order
	byName map[string]*bot.Bot // normalized nickname -> bot
	rng    *rand.Rand          // names and automaton seeds; guarded by mu
}

// New creates a Supervisor that connects bots through transport.
func New(transport Transport, opts ...Option) *Supervisor {
	s := &Supervisor{
		transport:     transport,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:       metrics.NewEngine(),
		recorder:      nopRecorder{},
		clock:         time.Now,
		movement:      bot.DefaultMovementConfig(),
		namePrefix:    DefaultNamePrefix,
		moveByDefault: true,
		tickRate:      DefaultTickRate,
		byName:        make(map[string]*bot.Bot),
	}
	for _, opt := range opts {
		opt(s)
	}

	seed := s.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	return s
}

// Metrics returns the supervisor's metrics engine.
func (s *Supervisor) Metrics() *metrics.Engine { return s.metrics }

// CurrentTick returns the number of sweeps run so far.
func (s *Supervisor) CurrentTick() uint64 { return s.tick.Load() }

// CreateBot registers a new Pending bot.
//
// An empty name is replaced by a generated one. With delayTicks == 0 the bot
// connects immediately; otherwise it connects on the sweep delayTicks ticks
// from now and its automaton starts ticking from then on.
func (s *Supervisor) CreateBot(name string, delayTicks uint64) (*bot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.createLocked(name, delayTicks)
	s.updateGaugesLocked()
	return b, err
}

// CreateBatch creates n bots with generated names, the i-th due to connect
// i*delayTicks ticks from now. It stops at the first failure and returns
// the bots created so far. A negative n is rejected with ErrInvalidCount.
func (s *Supervisor) CreateBatch(n int, delayTicks uint64) ([]*bot.Bot, error) {
	if n < 0 {
		return nil, &Error{Op: "create", Err: ErrInvalidCount}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.updateGaugesLocked()

	created := make([]*bot.Bot, 0, n)
	for i := 0; i < n; i++ {
		b, err := s.createLocked("", delayTicks*uint64(i))
		if err != nil {
			return created, err
		}
		created = append(created, b)
	}
	return created, nil
}

func (s *Supervisor) createLocked(name string, delayTicks uint64) (*bot.Bot, error) {
	if name == "" {
		generated, err := s.generateNameLocked()
		if err != nil {
			return nil, s.reject("", err)
		}
		name = generated
	} else if err := ValidateName(name); err != nil {
		return nil, s.reject(name, err)
	}

	if _, taken := s.byName[normalize(name)]; taken {
		return nil, s.reject(name, ErrNameCollision)
	}
	if limit := s.limitLocked(); limit > 0 && len(s.bots) >= limit {
		return nil, s.reject(name, ErrCapacityExceeded)
	}

	now := s.tick.Load()
	b := bot.New(bot.Options{
		ID:         uuid.NewString(),
		Nickname:   name,
		ConnectAt:  now + delayTicks,
		ShouldMove: s.moveByDefault,
		Movement:   s.movement,
		Random:     bot.NewRandom(s.rng.Uint64()),
		Clock:      s.clock,
	})

	s.bots = append(s.bots, b)
	s.byName[normalize(name)] = b

	s.logger.Debug("bot created", "bot", name, "id", b.ID(), "connect_at", b.ConnectAt())
	s.recordLifecycle(b, EventCreated, "")

	if delayTicks == 0 {
		s.connectLocked(b)
	}
	return b, nil
}

func (s *Supervisor) reject(name string, err error) error {
	s.logger.Warn("bot rejected", "bot", name, "error", err)
	s.recorder.RecordLifecycle(LifecycleEvent{
		Tick:     s.tick.Load(),
		At:       s.clock(),
		Nickname: name,
		Kind:     EventRejected,
		Detail:   err.Error(),
	})
	return &Error{Op: "create", Name: name, Err: err}
}

func (s *Supervisor) limitLocked() int {
	limit := s.maxBots
	if s.capacity != nil {
		if c := s.capacity(); c > 0 && (limit <= 0 || c < limit) {
			limit = c
		}
	}
	return limit
}

// Capacity returns the current admission limit; 0 means unbounded.
func (s *Supervisor) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitLocked()
}

// FindBotByName looks up a live bot, ignoring case.
func (s *Supervisor) FindBotByName(name string) (*bot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byName[normalize(name)]
	if !ok {
		return nil, &Error{Op: "find", Name: name, Err: ErrNotFound}
	}
	return b, nil
}

// ListBots returns the live bots in creation order.
func (s *Supervisor) ListBots() []*bot.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bots)
}

// DisconnectBot removes a bot from the fleet.
//
// Its automaton is deregistered before the call returns, so it receives no
// further ticks. Removing a bot that is already gone returns
// ErrAlreadyDisconnected and changes nothing.
func (s *Supervisor) DisconnectBot(b *bot.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.State() == bot.StateDisconnected {
		return &Error{Op: "remove", Name: b.Nickname(), Err: ErrAlreadyDisconnected}
	}
	if cur, ok := s.byName[normalize(b.Nickname())]; !ok || cur != b {
		return &Error{Op: "remove", Name: b.Nickname(), Err: ErrNotFound}
	}

	s.dropLocked(b, "removed")
	s.compactLocked()
	s.updateGaugesLocked()
	return nil
}

// DisconnectAll removes every bot and returns how many were removed.
func (s *Supervisor) DisconnectAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.bots {
		if b.State() != bot.StateDisconnected {
			s.dropLocked(b, "shutdown")
			n++
		}
	}
	s.compactLocked()
	s.updateGaugesLocked()
	return n
}

// Stats returns the current fleet counts.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Tick: s.tick.Load(), Total: len(s.bots), Limit: s.limitLocked()}
	for _, b := range s.bots {
		switch b.State() {
		case bot.StatePending:
			st.Pending++
		case bot.StateConnected:
			st.Connected++
		}
	}
	return st
}

// Tick runs one scheduler sweep.
//
// The sweep connects pending bots whose delay has elapsed, applies server
// teleports, drops bots whose connection was lost, and ticks every
// connected automaton in creation order.
func (s *Supervisor) Tick() {
	start := time.Now()

	s.mu.Lock()
	now := s.tick.Add(1)

	ticked, dropped := 0, 0
	for _, b := range s.bots {
		if b.State() == bot.StatePending && now >= b.ConnectAt() {
			s.connectLocked(b)
		}
		if b.State() != bot.StateConnected {
			continue
		}

		link := b.Link()
		select {
		case <-link.Done():
			s.dropLocked(b, "connection lost")
			dropped++
			continue
		default:
		}

		if p, ok := link.TakeTeleport(); ok {
			b.Teleport(p)
		}

		m := b.Movement()
		if m == nil {
			continue
		}
		ticked++
		if m.Tick() == bot.Stop {
			s.dropLocked(b, "automaton stopped")
			dropped++
		}
	}

	if dropped > 0 {
		s.compactLocked()
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.metrics.RecordSweep(time.Since(start), ticked)
}

// Run drives Tick at the configured rate until ctx is done, then removes
// every bot.
func (s *Supervisor) Run(ctx context.Context) error {
	pacer := rate.NewLeakyBucketWithBurst(s.tickRate, catchUpTicks)
	defer s.DisconnectAll()

	s.logger.Info("scheduler started", "tick_rate", s.tickRate)
	for {
		if err := pacer.Wait(ctx); err != nil {
			s.logger.Info("scheduler stopped", "tick", s.tick.Load(), "caught_up", pacer.Stats().CaughtUp)
			return nil
		}
		s.Tick()
	}
}

func (s *Supervisor) connectLocked(b *bot.Bot) {
	link := s.instrument(b, s.transport.Open(b.ID(), b.Nickname()))
	if !b.Connect(link, s.tick.Load()) {
		_ = link.Close()
		return
	}

	s.metrics.RecordConnect()
	s.logger.Info("bot connected", "bot", b.Nickname(), "tick", b.ConnectedTick())
	s.recordLifecycle(b, EventConnected, "")
}

// dropLocked disconnects b and removes it from the name index. The caller
// compacts s.bots afterwards.
func (s *Supervisor) dropLocked(b *bot.Bot, reason string) {
	if !b.Disconnect() {
		return
	}
	if cur, ok := s.byName[normalize(b.Nickname())]; ok && cur == b {
		delete(s.byName, normalize(b.Nickname()))
	}

	s.metrics.RecordDisconnect()
	s.logger.Info("bot disconnected", "bot", b.Nickname(), "reason", reason)
	s.recordLifecycle(b, EventDisconnected, reason)
}

func (s *Supervisor) compactLocked() {
	s.bots = slices.DeleteFunc(s.bots, func(b *bot.Bot) bool {
		return b.State() == bot.StateDisconnected
	})
}

func (s *Supervisor) updateGaugesLocked() {
	pending, connected := 0, 0
	for _, b := range s.bots {
		switch b.State() {
		case bot.StatePending:
			pending++
		case bot.StateConnected:
			connected++
		}
	}
	s.metrics.SetBots(pending, connected)
}

func (s *Supervisor) recordLifecycle(b *bot.Bot, kind EventKind, detail string) {
	s.recorder.RecordLifecycle(LifecycleEvent{
		Tick:     s.tick.Load(),
		At:       s.clock(),
		BotID:    b.ID(),
		Nickname: b.Nickname(),
		Kind:     kind,
		Detail:   detail,
	})
}
