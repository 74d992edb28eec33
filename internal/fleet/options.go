package fleet

import (
	"log/slog"

	"github.com/wesleyorama2/botswarm/internal/bot"
	"github.com/wesleyorama2/botswarm/internal/metrics"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics engine.
func WithMetrics(engine *metrics.Engine) Option {
	return func(s *Supervisor) {
		if engine != nil {
			s.metrics = engine
		}
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMaxBots bounds the number of live bots. Zero or less means unbounded.
func WithMaxBots(n int) Option {
	return func(s *Supervisor) { s.maxBots = n }
}

// WithCapacity sets an external capacity source, such as the server's
// reported player limit. Non-positive values from the source are ignored.
func WithCapacity(capacity func() int) Option {
	return func(s *Supervisor) { s.capacity = capacity }
}

// WithMovementConfig tunes every automaton the supervisor creates.
func WithMovementConfig(cfg bot.MovementConfig) Option {
	return func(s *Supervisor) { s.movement = cfg }
}

// WithSeed makes name generation and automaton randomness reproducible.
// Zero picks a time-based seed.
func WithSeed(seed uint64) Option {
	return func(s *Supervisor) { s.seed = seed }
}

// WithNamePrefix sets the prefix for generated nicknames.
func WithNamePrefix(prefix string) Option {
	return func(s *Supervisor) { s.namePrefix = prefix }
}

// WithMoveByDefault sets the initial movement flag of new bots.
func WithMoveByDefault(enabled bool) Option {
	return func(s *Supervisor) { s.moveByDefault = enabled }
}

// WithTickRate sets the scheduler rate in ticks per second.
func WithTickRate(rate float64) Option {
	return func(s *Supervisor) {
		if rate > 0 {
			s.tickRate = rate
		}
	}
}

// WithClock sets the wall clock used for emission gating.
func WithClock(clock bot.Clock) Option {
	return func(s *Supervisor) {
		if clock != nil {
			s.clock = clock
		}
	}
}
