package fleet

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	nameAttempts     = 64
	shortNameDigits  = 4
	longNameDigits   = 6
	widenAfterTrying = 32
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// ValidateName checks a caller-supplied nickname.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// normalize is the single key used for both lookups and collision checks.
func normalize(name string) string {
	return strings.ToLower(name)
}

// generateNameLocked picks a free nickname of the form <prefix><digits>.
// Caller must hold s.mu.
func (s *Supervisor) generateNameLocked() (string, error) {
	for attempt := 0; attempt < nameAttempts; attempt++ {
		digits := shortNameDigits
		if attempt >= widenAfterTrying {
			digits = longNameDigits
		}

		name := fmt.Sprintf("%s%0*d", s.namePrefix, digits, s.rng.IntN(pow10(digits)))
		if err := ValidateName(name); err != nil {
			return "", err
		}
		if _, taken := s.byName[normalize(name)]; !taken {
			return name, nil
		}
	}
	return "", ErrNameCollision
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
