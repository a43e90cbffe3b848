package resource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/picklr-io/testbed/internal/sentinel"
	"github.com/picklr-io/testbed/pkg/engine"
)

const (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = sentinel.Error("invalid configuration")

	// ErrLockNotHeld means an internal operation ran without the resource lock.
	// It indicates a bug in this package, never a caller mistake.
	ErrLockNotHeld = sentinel.Error("resource lock not held")

	// ErrDisposed is returned by Create once the resource has been disposed.
	ErrDisposed = sentinel.Error("resource disposed")

	// ErrNotFound is returned by identity queries on a resource that does not
	// currently exist.
	ErrNotFound = engine.ErrNotFound
)

// ConfigError reports an invalid or conflicting configuration field. It is
// returned before any engine call is made.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// SetOnce returns a ConfigError for a field that may only be assigned once.
func SetOnce(field string) error {
	return &ConfigError{Field: field, Reason: "has already been set and can only be set once"}
}

// EngineError wraps a failed engine call. The original error is preserved for
// errors.Is and errors.As.
type EngineError struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.Kind)
	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// WrapEngine wraps err as an EngineError for kind and op. It returns nil for a
// nil err and leaves existing EngineErrors untouched.
func WrapEngine(kind Kind, op, id string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Kind: kind, Op: op, ID: id, Err: err}
}
