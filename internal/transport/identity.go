package transport

import (
	"fmt"
	"regexp"
)

var registrationIDPattern = regexp.MustCompile(`^[a-z0-9-]*$`)

// ValidateRegistrationID checks that id is lowercase alphanumeric with hyphens,
// the format required for certificate-derived device identities.
func ValidateRegistrationID(id string) error {
	if id == "" || !registrationIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid registration id %q: must be alphanumeric, lowercase, and may contain hyphens", ErrFormatViolation, id)
	}
	return nil
}
