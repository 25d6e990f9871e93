package session

import (
	"fmt"
	"regexp"
)

// Session names become directory, socket and lock path components, so
// the alphabet is restricted to lowercase ASCII, digits, '-' and '_'.
const maxNameLen = 64

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName rejects names that cannot be used as a session identifier.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid session name %q: must be 1-%d characters", name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: only lowercase letters, digits, '-' and '_'", name)
	}
	return nil
}
