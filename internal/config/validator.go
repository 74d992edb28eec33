package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/wesleyorama2/botswarm/internal/fleet"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the failing field paths in order.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		out = append(out, err.Field)
	}
	return out
}

const maxPrefixLen = 10

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks a configuration after ApplyDefaults.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *FleetConfig) Validate() error {
	errs := &ValidationErrors{}

	validateServer(&c.Server, errs)
	validateFleet(&c.Fleet, errs)
	validateMovement(&c.Movement, errs)
	validateSpawn(&c.Spawn, c.Fleet.MaxBots, errs)
	validateLogging(&c.Logging, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig, errs *ValidationErrors) {
	if s.URL == "" {
		errs.Add("server.url", "server url is required")
	} else if u, err := url.Parse(s.URL); err != nil {
		errs.Add("server.url", fmt.Sprintf("invalid url: %v", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs.Add("server.url", fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme))
	} else if u.Host == "" {
		errs.Add("server.url", "url has no host")
	}

	switch s.Codec {
	case "json", "cbor":
	default:
		errs.Add("server.codec", fmt.Sprintf("unknown codec: %s", s.Codec))
	}
	if s.HandshakeTimeout < 0 {
		errs.Add("server.handshakeTimeout", "must not be negative")
	}
	if s.SendBuffer < 0 {
		errs.Add("server.sendBuffer", "must not be negative")
	}
}

func validateFleet(f *FleetSettings, errs *ValidationErrors) {
	if f.MaxBots < 0 {
		errs.Add("fleet.maxBots", "must not be negative")
	}
	if f.TickRate <= 0 {
		errs.Add("fleet.tickRate", "must be greater than 0")
	}
	if len(f.NamePrefix) > maxPrefixLen {
		errs.Add("fleet.namePrefix", fmt.Sprintf("must be at most %d characters", maxPrefixLen))
	} else if f.NamePrefix != "" && !prefixPattern.MatchString(f.NamePrefix) {
		errs.Add("fleet.namePrefix", "may only contain letters, digits and underscores")
	}
}

func validateMovement(m *MovementSettings, errs *ValidationErrors) {
	if m.Interval <= 0 {
		errs.Add("movement.interval", "must be greater than 0")
	}
	if m.StepSize <= 0 {
		errs.Add("movement.stepSize", "must be greater than 0")
	}
	if m.ArrivalThreshold <= 0 {
		errs.Add("movement.arrivalThreshold", "must be greater than 0")
	}
	if m.MinDistance <= m.ArrivalThreshold {
		errs.Add("movement.minDistance", "must be greater than arrivalThreshold")
	}
	if m.MaxDistance <= m.MinDistance {
		errs.Add("movement.maxDistance", "must be greater than minDistance")
	}
	lo, hi := m.Cooldowns()
	if lo < 0 {
		errs.Add("movement.cooldownMin", "must not be negative")
	}
	if hi < lo {
		errs.Add("movement.cooldownMax", "must not be less than cooldownMin")
	}
}

func validateSpawn(s *SpawnConfig, maxBots int, errs *ValidationErrors) {
	if s.Count < 0 {
		errs.Add("spawn.count", "must not be negative")
	}
	if s.Delay() < 0 {
		errs.Add("spawn.delayTicks", "must not be negative")
	}

	seen := make(map[string]bool, len(s.Names))
	for i, name := range s.Names {
		field := fmt.Sprintf("spawn.names[%d]", i)
		if err := fleet.ValidateName(name); err != nil {
			errs.Add(field, fmt.Sprintf("%q: %v", name, err))
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			errs.Add(field, fmt.Sprintf("duplicate nickname %q", name))
		}
		seen[key] = true
	}

	if total := s.Count + len(s.Names); maxBots > 0 && total > maxBots {
		errs.Add("spawn", fmt.Sprintf("spawns %d bots but fleet.maxBots is %d", total, maxBots))
	}
}

func validateLogging(l *LoggingConfig, errs *ValidationErrors) {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs.Add("logging.level", fmt.Sprintf("unknown level: %s", l.Level))
	}
	switch l.Format {
	case "text", "json":
	default:
		errs.Add("logging.format", fmt.Sprintf("unknown format: %s", l.Format))
	}
}
