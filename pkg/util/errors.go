// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the hotspot error taxonomy.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrUnsupported      = errors.New("interface cannot run client and access point concurrently")
	ErrStartupFailed    = errors.New("hotspot startup failed")
	ErrStartupTimeout   = errors.New("hotspot startup timed out")
	ErrUplinkLost       = errors.New("uplink lost beyond grace period")
	ErrAlreadyActive    = errors.New("hotspot session already active")
	ErrTeardownPartial  = errors.New("teardown incomplete")
	ErrNoSuchInterface  = errors.New("no such wireless interface")
	ErrDaemonExited     = errors.New("access point daemon exited")
	ErrSessionCancelled = errors.New("session cancelled")
	ErrPermissionDenied = errors.New("permission denied")
)

// Reason is the stable code carried by an Error(reason) session state and
// by the control API.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonInvalidConfig   Reason = "invalid_config"
	ReasonUnsupported     Reason = "unsupported"
	ReasonStartupFailed   Reason = "startup_failed"
	ReasonStartupTimeout  Reason = "startup_timeout"
	ReasonUplinkLost      Reason = "uplink_lost"
	ReasonAlreadyActive   Reason = "already_active"
	ReasonTeardownPartial Reason = "teardown_partial"
	ReasonNoSuchInterface Reason = "no_such_interface"
	ReasonDaemonExited    Reason = "daemon_exited"
	ReasonCancelled       Reason = "cancelled"
	ReasonPermission      Reason = "permission_denied"
	ReasonInternal        Reason = "internal"
)

// reasonTable is ordered: more specific sentinels first.
var reasonTable = []struct {
	err    error
	reason Reason
}{
	{ErrPermissionDenied, ReasonPermission},
	{ErrInvalidConfig, ReasonInvalidConfig},
	{ErrNoSuchInterface, ReasonNoSuchInterface},
	{ErrUnsupported, ReasonUnsupported},
	{ErrAlreadyActive, ReasonAlreadyActive},
	{ErrStartupTimeout, ReasonStartupTimeout},
	{ErrDaemonExited, ReasonDaemonExited},
	{ErrUplinkLost, ReasonUplinkLost},
	{ErrSessionCancelled, ReasonCancelled},
	{ErrStartupFailed, ReasonStartupFailed},
	{ErrTeardownPartial, ReasonTeardownPartial},
}

// ReasonOf maps an error onto its taxonomy code. Unknown errors map to
// ReasonInternal; nil maps to ReasonNone.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasonTable {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// SentinelFor returns the sentinel error for a reason code, or nil.
func SentinelFor(reason Reason) error {
	for _, r := range reasonTable {
		if r.reason == reason {
			return r.err
		}
	}
	return nil
}

// CodedError carries a message received from another process together with
// the sentinel its reason code names.
type CodedError struct {
	Reason  Reason
	Message string
}

func (e *CodedError) Error() string {
	return e.Message
}

func (e *CodedError) Unwrap() error {
	return SentinelFor(e.Reason)
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// StepError records which bring-up step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with the step name. Errors that do not already
// carry a taxonomy sentinel are classified as startup failures.
func NewStepError(step string, err error) *StepError {
	if ReasonOf(err) == ReasonInternal {
		err = fmt.Errorf("%w: %w", ErrStartupFailed, err)
	}
	return &StepError{Step: step, Err: err}
}

// TeardownError collects every failure of a best-effort cleanup.
type TeardownError struct {
	Errors []error
}

func (e *TeardownError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	if len(msgs) == 1 {
		return "teardown incomplete: " + msgs[0]
	}
	return fmt.Sprintf("teardown incomplete:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (e *TeardownError) Unwrap() error {
	return ErrTeardownPartial
}

// JoinTeardown returns nil when errs holds no errors, otherwise a
// TeardownError. Nil entries are skipped and nested TeardownErrors flattened.
func JoinTeardown(errs ...error) error {
	var out []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var te *TeardownError
		if errors.As(err, &te) {
			out = append(out, te.Errors...)
			continue
		}
		out = append(out, err)
	}
	if len(out) == 0 {
		return nil
	}
	return &TeardownError{Errors: out}
}
