// Package errors provides centralized error definitions and error handling utilities
// for ciftiprep. It defines sentinel errors, domain error types with context
// builders, and the classification helpers the CLI uses to pick an exit code.
//
// # Error Types
//
// Domain-specific errors:
//   - ConfigError: a configuration value names something unknown or unimplemented.
//     Always fatal; the process exits before (or instead of) running further steps.
//   - ToolError: an external tool invocation exited non-zero or could not start.
//
// Semantic errors:
//   - ValidationError: invalid input or state
//   - TimeoutError: an external invocation exceeded its deadline
//
// # Usage
//
//	err := errors.NewConfigError("registration method is not implemented", errors.ErrRegistrationNotImplemented).
//		WithSetting("registration.surface").
//		WithValue("MSMSulc")
//
//	if errors.Is(err, errors.ErrRegistrationNotImplemented) { ... }
//
//	var toolErr *errors.ToolError
//	if errors.As(err, &toolErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that stop the run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Configuration sentinel errors
var (
	// ErrRegistrationNotImplemented indicates a recognized but unimplemented
	// surface registration method was requested.
	ErrRegistrationNotImplemented = New("registration method not implemented")
	// ErrUnknownRegistration indicates a registration name that is not recognized at all.
	ErrUnknownRegistration = New("unknown registration method")
	// ErrInvalidResolution indicates a malformed or duplicate mesh resolution label.
	ErrInvalidResolution = New("invalid mesh resolution")
	// ErrInvalidSubject indicates an empty or malformed subject identifier.
	ErrInvalidSubject = New("invalid subject id")
	// ErrUnknownQCMode indicates a QC visualization mode that has no template.
	ErrUnknownQCMode = New("unknown qc mode")
)

// Pipeline sentinel errors
var (
	// ErrToolFailed indicates that an external tool exited with a non-zero status.
	ErrToolFailed = New("external tool failed")
	// ErrStepsFailed indicates a run finished with one or more failed steps.
	ErrStepsFailed = New("one or more pipeline steps failed")
	// ErrUnresolvedToken indicates a template placeholder survived substitution.
	ErrUnresolvedToken = New("unresolved template token")
	// ErrMissingInput indicates a required input file does not exist.
	ErrMissingInput = New("required input missing")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// PipelineError is the base interface for all ciftiprep errors.
type PipelineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsFatal returns true if the run must stop immediately.
	IsFatal() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	fatal      bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsFatal returns whether the error stops the run.
func (e *baseError) IsFatal() bool {
	return e.fatal
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ConfigError represents a configuration value that names something unknown or
// unimplemented. Config errors are always fatal.
//
// Example:
//
//	err := errors.NewConfigError("registration method is not implemented", errors.ErrRegistrationNotImplemented)
//	err = err.WithSetting("registration.surface").WithValue("MSMSulc")
//	fmt.Println(err) // "config error [setting=registration.surface, value=MSMSulc]: registration method is not implemented: registration method not implemented"
type ConfigError struct {
	baseError
	Setting string
	Value   string
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			fatal:      true,
			userFacing: true,
		},
	}
}

// WithSetting adds the offending setting key to the error context.
func (e *ConfigError) WithSetting(key string) *ConfigError {
	e.Setting = key
	return e
}

// WithValue adds the offending value to the error context.
func (e *ConfigError) WithValue(value string) *ConfigError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ConfigError) Error() string {
	var parts []string
	if e.Setting != "" {
		parts = append(parts, fmt.Sprintf("setting=%s", e.Setting))
	}
	if e.Value != "" {
		parts = append(parts, fmt.Sprintf("value=%s", e.Value))
	}

	prefix := "config error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("config error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ToolError represents a failed external tool invocation.
//
// Example:
//
//	err := errors.NewToolError("wb_command", []string{"-set-structure", "x.surf.gii", "CORTEX_LEFT"}, cause).
//		WithExitCode(255).
//		WithOutput(string(out))
type ToolError struct {
	baseError
	Command  string
	Args     []string
	ExitCode int
	Output   string
}

// NewToolError creates a new ToolError.
func NewToolError(command string, args []string, cause error) *ToolError {
	return &ToolError{
		baseError: baseError{
			message:    "invocation failed",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Command:  command,
		Args:     args,
		ExitCode: -1,
	}
}

// WithExitCode adds the process exit status.
func (e *ToolError) WithExitCode(code int) *ToolError {
	e.ExitCode = code
	return e
}

// WithOutput adds the combined tool output, truncated for readability.
func (e *ToolError) WithOutput(output string) *ToolError {
	e.Output = truncateOutput(strings.TrimSpace(output), 500)
	return e
}

// Error returns the formatted error message.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("cmd=%s", e.Command)}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	msg := fmt.Sprintf("tool error [%s]: %s", strings.Join(parts, ", "), e.message)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s (output: %s)", msg, e.Output)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ToolError) Is(target error) bool {
	if _, ok := target.(*ToolError); ok {
		return true
	}
	if target == ErrToolFailed {
		return true
	}
	return e.baseError.Is(target)
}

// CommandLine renders the invocation as a single shell-like string.
func (e *ToolError) CommandLine() string {
	return strings.Join(append([]string{e.Command}, e.Args...), " ")
}

// truncateOutput truncates s to maxLen bytes, appending "..." when cut.
func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithField adds the field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an external invocation that exceeded its deadline.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityError,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal returns true if err, or any error it wraps or joins, must stop the
// run. Config errors are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if pipelineErr, ok := err.(PipelineError); ok && pipelineErr.IsFatal() {
		return true
	}
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return IsFatal(e.Unwrap())
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if IsFatal(inner) {
				return true
			}
		}
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement PipelineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var pipelineErr PipelineError
	if As(err, &pipelineErr) {
		return pipelineErr.Severity()
	}
	return SeverityError
}

// Exit codes returned by the CLI.
const (
	ExitOK          = 0
	ExitStepsFailed = 1
	ExitConfig      = 2
)

// ExitCode maps an error to the process exit status: fatal errors and
// validation problems exit 2, everything else exits 1. A joined error exits
// 2 when any of its parts would.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var validation *ValidationError
	if IsFatal(err) || As(err, &validation) {
		return ExitConfig
	}
	return ExitStepsFailed
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
