package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/picklr-io/testbed/pkg/compose"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/session"
	"github.com/picklr-io/testbed/providers/docker"
)

// Config carries the settings every resource kind shares. Resource-specific
// configurations embed it.
type Config struct {
	// SessionID ties the resource to a test run. See package session.
	SessionID string
	// Endpoint is used to dial the engine when Engine is nil.
	Endpoint engine.Endpoint
	// Engine overrides the engine client.
	Engine engine.Engine `validate:"-"`
	Labels map[string]string
	Logger *slog.Logger `validate:"-"`
}

// Merge combines c with newValue, field by field. Present values in newValue
// win; empty values keep what c had.
func (c Config) Merge(newValue Config) Config {
	merged := Config{
		SessionID: compose.Combine(c.SessionID, newValue.SessionID),
		Endpoint:  compose.Combine(c.Endpoint, newValue.Endpoint),
		Engine:    c.Engine,
		Labels:    compose.CombineMap(c.Labels, newValue.Labels),
		Logger:    compose.Combine(c.Logger, newValue.Logger),
	}
	// Interface values may hold incomparable types, so test for nil only.
	if newValue.Engine != nil {
		merged.Engine = newValue.Engine
	}
	return merged
}

// EngineLabels returns the user labels plus the session labels.
func (c Config) EngineLabels() map[string]string {
	return compose.CombineMap(c.Labels, session.Labels(c.SessionID))
}

// Open returns the engine the resource talks to together with the options
// New needs. When no engine was injected a Docker client is dialled from
// Endpoint and closed on Dispose.
func (c Config) Open() (engine.Engine, []Option, error) {
	opts := []Option{WithSessionID(c.SessionID), WithLogger(c.Logger)}
	if c.Engine != nil {
		return c.Engine, opts, nil
	}
	cli, err := docker.New(c.Endpoint, c.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return cli, append(opts, WithCloser(cli)), nil
}

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Validate checks the validate struct tags of cfg and reports the first
// failing field as a ConfigError.
func Validate(cfg any) error {
	err := validate().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Field: fmt.Sprintf("%T", cfg), Reason: err.Error()}
	}
	fe := verrs[0]
	return &ConfigError{
		Field:  fieldPath(fe.Namespace()),
		Reason: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
