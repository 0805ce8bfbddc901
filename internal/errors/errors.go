package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every structured error below matches exactly one of these
// through errors.Is, so callers can branch on the kind without caring about
// the concrete type.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrSecurity     = errors.New("security violation")
	ErrConnectivity = errors.New("connectivity failure")
	ErrConfig       = errors.New("configuration error")
)

// NotFoundError reports a missing registry type, secret, sub-key, store or client
type NotFoundError struct {
	Kind  string // "secret", "key", "key store", "host client", "key store type", ...
	Name  string
	Scope string // optional: where the lookup happened
}

func (e NotFoundError) Error() string {
	msg := fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
	if e.Scope != "" {
		msg += " in " + e.Scope
	}
	return msg
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError reports a malformed record or an invalid name. Field holds
// the dotted path of the offending value when one is known.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += fmt.Sprintf(" for '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	return msg + ": " + e.Message
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SecurityError reports a storage path that resolves outside its root
type SecurityError struct {
	Path string
	Root string
}

func (e SecurityError) Error() string {
	return fmt.Sprintf("path '%s' escapes storage root '%s'", e.Path, e.Root)
}

func (e SecurityError) Is(target error) bool {
	return target == ErrSecurity
}

// ConnectivityError wraps a transport failure surfaced by a collaborator
type ConnectivityError struct {
	Op     string
	Target string
	Err    error
}

func (e ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Op, e.Target)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Target, e.Err)
}

func (e ConnectivityError) Unwrap() error {
	return e.Err
}

func (e ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a malformed declarative record at load time
type ConfigError struct {
	File       string
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.File != "" {
		msg += fmt.Sprintf(" in %s", e.File)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

func (e ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// NotFound is shorthand for building a NotFoundError
func NotFound(kind, name, scope string) error {
	return NotFoundError{Kind: kind, Name: name, Scope: scope}
}

// IsNotFound reports whether err is, or wraps, a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already structured: the message is meaningful as is
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrSecurity, ErrConnectivity, ErrConfig} {
		if errors.Is(err, kind) {
			return err
		}
	}
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cmdErr CommandError
	if errors.As(err, &cmdErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
