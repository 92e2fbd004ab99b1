package provision

import (
	"errors"
	"fmt"
)

// ErrMissingTemplate is returned when the base template a target file would
// be copied from does not exist.
var ErrMissingTemplate = errors.New("base template not found")

// ProvisioningError reports a filesystem failure creating or validating a
// target's resources.
type ProvisioningError struct {
	Op     string // "copy", "validate", "mkdir", ...
	Target string
	Path   string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s: %s %s: %v", e.Target, e.Op, e.Path, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
