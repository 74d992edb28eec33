// Package config loads and validates fleet configuration files.
package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// FleetConfig is the root configuration of a swarm run.
//
// Example YAML:
//
//	name: "lobby soak"
//	server:
//	  url: ws://localhost:8080/v1/ws
//	  codec: json
//	fleet:
//	  maxBots: 200
//	  tickRate: 20
//	spawn:
//	  count: 50
//	  delayTicks: 20
type FleetConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Server   ServerConfig     `json:"server" yaml:"server"`
	Fleet    FleetSettings    `json:"fleet,omitempty" yaml:"fleet,omitempty"`
	Movement MovementSettings `json:"movement,omitempty" yaml:"movement,omitempty"`
	Spawn    SpawnConfig      `json:"spawn,omitempty" yaml:"spawn,omitempty"`
	Record   RecordConfig     `json:"record,omitempty" yaml:"record,omitempty"`
	Logging  LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerConfig describes the game server connection.
type ServerConfig struct {
	// URL is the websocket endpoint, ws:// or wss://
	URL string `json:"url" yaml:"url"`

	// Codec is the wire encoding: "json" or "cbor"
	Codec string `json:"codec,omitempty" yaml:"codec,omitempty"`

	// HandshakeTimeout bounds each dial
	HandshakeTimeout Duration `json:"handshakeTimeout,omitempty" yaml:"handshakeTimeout,omitempty"`

	// SendBuffer is the number of outbound packets queued per bot
	SendBuffer int `json:"sendBuffer,omitempty" yaml:"sendBuffer,omitempty"`
}

// FleetSettings controls the supervisor.
type FleetSettings struct {
	// MaxBots caps live bots; 0 leaves only the server's limit
	MaxBots int `json:"maxBots,omitempty" yaml:"maxBots,omitempty"`

	// TickRate is the number of scheduler sweeps per second
	TickRate float64 `json:"tickRate,omitempty" yaml:"tickRate,omitempty"`

	// Seed makes names and walks reproducible; 0 is time-based
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// NamePrefix is prepended to generated nicknames
	NamePrefix string `json:"namePrefix,omitempty" yaml:"namePrefix,omitempty"`

	// MoveByDefault is the movement flag of new bots (default true)
	MoveByDefault *bool `json:"moveByDefault,omitempty" yaml:"moveByDefault,omitempty"`
}

// MovementSettings tunes the random walk.
type MovementSettings struct {
	Interval         Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	StepSize         float64  `json:"stepSize,omitempty" yaml:"stepSize,omitempty"`
	ArrivalThreshold float64  `json:"arrivalThreshold,omitempty" yaml:"arrivalThreshold,omitempty"`
	MinDistance      float64  `json:"minDistance,omitempty" yaml:"minDistance,omitempty"`
	MaxDistance      float64  `json:"maxDistance,omitempty" yaml:"maxDistance,omitempty"`
	CooldownMin      *int     `json:"cooldownMin,omitempty" yaml:"cooldownMin,omitempty"`
	CooldownMax      *int     `json:"cooldownMax,omitempty" yaml:"cooldownMax,omitempty"`
}

// Cooldowns returns the cooldown bounds in ticks; unset bounds read as 0.
func (m MovementSettings) Cooldowns() (lo, hi int) {
	return intOr(m.CooldownMin, 0), intOr(m.CooldownMax, 0)
}

// SpawnConfig describes the bots created at startup.
type SpawnConfig struct {
	// Count is the number of bots with generated names
	Count int `json:"count,omitempty" yaml:"count,omitempty"`

	// DelayTicks staggers consecutive connections; 0 connects all at once
	DelayTicks *int `json:"delayTicks,omitempty" yaml:"delayTicks,omitempty"`

	// Names are created first, in order, with the same stagger
	Names []string `json:"names,omitempty" yaml:"names,omitempty"`
}

// Delay returns the stagger in ticks, DefaultDelayTicks when unset.
func (s SpawnConfig) Delay() int {
	return intOr(s.DelayTicks, DefaultDelayTicks)
}

// RecordConfig enables activity recording. Empty paths disable a sink.
type RecordConfig struct {
	// TraceDir receives hourly zstd-compressed JSONL files
	TraceDir string `json:"traceDir,omitempty" yaml:"traceDir,omitempty"`

	// IndexPath is a SQLite database of lifecycle events
	IndexPath string `json:"indexPath,omitempty" yaml:"indexPath,omitempty"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultCodec            = "json"
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultSendBuffer       = 64
	DefaultMaxBots          = 100
	DefaultTickRate         = 20.0
	DefaultNamePrefix       = "Bot_"
	DefaultDelayTicks       = 20
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// ApplyDefaults fills every unset field.
func (c *FleetConfig) ApplyDefaults() {
	if c.Server.Codec == "" {
		c.Server.Codec = DefaultCodec
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = Duration(DefaultHandshakeTimeout)
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}

	if c.Fleet.MaxBots == 0 {
		c.Fleet.MaxBots = DefaultMaxBots
	}
	if c.Fleet.TickRate == 0 {
		c.Fleet.TickRate = DefaultTickRate
	}
	if c.Fleet.NamePrefix == "" {
		c.Fleet.NamePrefix = DefaultNamePrefix
	}
	if c.Fleet.MoveByDefault == nil {
		enabled := true
		c.Fleet.MoveByDefault = &enabled
	}

	def := bot.DefaultMovementConfig()
	m := &c.Movement
	if m.Interval == 0 {
		m.Interval = Duration(def.Interval)
	}
	if m.StepSize == 0 {
		m.StepSize = def.StepSize
	}
	if m.ArrivalThreshold == 0 {
		m.ArrivalThreshold = def.ArrivalThreshold
	}
	if m.MinDistance == 0 {
		m.MinDistance = def.MinDistance
	}
	if m.MaxDistance == 0 {
		m.MaxDistance = def.MaxDistance
	}
	// A single explicit bound pulls the other default towards it.
	switch {
	case m.CooldownMin == nil && m.CooldownMax == nil:
		m.CooldownMin, m.CooldownMax = IntPtr(def.CooldownMin), IntPtr(def.CooldownMax)
	case m.CooldownMin == nil:
		m.CooldownMin = IntPtr(min(def.CooldownMin, *m.CooldownMax))
	case m.CooldownMax == nil:
		m.CooldownMax = IntPtr(max(def.CooldownMax, *m.CooldownMin))
	}

	if c.Spawn.DelayTicks == nil {
		c.Spawn.DelayTicks = IntPtr(DefaultDelayTicks)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// MoveByDefaultEnabled reports the effective movement flag for new bots.
func (c *FleetConfig) MoveByDefaultEnabled() bool {
	return c.Fleet.MoveByDefault == nil || *c.Fleet.MoveByDefault
}

// MovementConfig converts the movement section for the automaton.
func (c *FleetConfig) MovementConfig() bot.MovementConfig {
	m := c.Movement
	lo, hi := m.Cooldowns()
	return bot.MovementConfig{
		Interval:         time.Duration(m.Interval),
		StepSize:         m.StepSize,
		ArrivalThreshold: m.ArrivalThreshold,
		MinDistance:      m.MinDistance,
		MaxDistance:      m.MaxDistance,
		CooldownMin:      lo,
		CooldownMax:      hi,
	}
}

// IntPtr returns a pointer to v, for optional integer settings.
func IntPtr(v int) *int { return &v }

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Duration is a time.Duration written as a string ("50ms", "5s") in
// configuration files. A bare number is read as seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses "1m30s" style strings and bare seconds.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, nil
	}
	if dur, err := time.ParseDuration(s); err == nil {
		return Duration(dur), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}
