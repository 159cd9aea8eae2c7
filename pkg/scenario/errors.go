package scenario

import (
	"errors"
	"fmt"

	"github.com/giantswarm/given/pkg/auth"
)

var (
	// ErrInvalidState is matched by InvalidStateError and returned for DSL
	// calls made in the wrong order.
	ErrInvalidState = errors.New("invalid scenario state")
	// ErrNoCurrentStep is returned when a chaining operator runs before any step was attached.
	ErrNoCurrentStep = fmt.Errorf("%w: no current step", ErrInvalidState)
	// ErrNotExecuted is returned by Validate on a step that has not run yet.
	ErrNotExecuted = fmt.Errorf("%w: step has not been executed", ErrInvalidState)
	// ErrStepNotFound is returned by Storage.Get for unknown names.
	ErrStepNotFound = errors.New("step not found")
)

// InvalidStateError names the entry point that must be called before the
// failing configuration call.
type InvalidStateError struct {
	// Expected is the entry point, e.g. "Resource()".
	Expected string
	// Got describes the current step, empty when there is none.
	Got string
}

func (e *InvalidStateError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("invalid scenario state: call %s first", e.Expected)
	}
	return fmt.Sprintf("invalid scenario state: call %s first (current step is %s)", e.Expected, e.Got)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConfigError marks a step that cannot run as configured, such as a missing
// broker list or a relative URL without a base. Steps still store it as a
// failed result; the chaining operators report it through Fail.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a configuration error: a
// *ConfigError, a DSL ordering error or a missing required auth field.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	var missing *auth.MissingFieldError
	return errors.As(err, &cfgErr) || errors.Is(err, ErrInvalidState) || errors.As(err, &missing)
}
