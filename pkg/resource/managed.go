// Package resource implements the lifecycle shared by every engine-backed
// resource: a per-instance lock, a cached snapshot of the remote object and
// idempotent create, delete and dispose.
//
// A resource kind only supplies an Adapter. Managed serializes every
// operation on one instance through a FIFO lock, so N concurrent Create calls
// issue exactly one create request and all observe the same outcome.
//
// Cancellation is best effort. A context cancelled while an engine call is in
// flight stops the wait, but the engine may still have applied the change;
// call Refresh before relying on the cached state afterwards.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/internal/metrics"
	"github.com/picklr-io/testbed/pkg/engine"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// Kind names a resource type in errors, logs and metrics.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindVolume    Kind = "volume"
	KindContainer Kind = "container"
)

// Adapter binds Managed to the engine calls of one resource kind.
type Adapter[S any] interface {
	// Identity returns the identifier carried by a snapshot; empty means the
	// resource does not exist.
	Identity(state S) string
	// Create issues the create request and returns the new identifier.
	Create(ctx context.Context) (string, error)
	// Lookup fetches the authoritative snapshot for id.
	Lookup(ctx context.Context, id string) (S, error)
	// Delete removes the object identified by id.
	Delete(ctx context.Context, id string) error
}

// Option configures a Managed resource.
type Option func(*options)

type options struct {
	sessionID string
	logger    *slog.Logger
	closers   []io.Closer
}

// WithSessionID marks the resource as owned by a session. Owned resources are
// deleted on Dispose.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCloser registers c to be closed once the resource is disposed.
func WithCloser(c io.Closer) Option {
	return func(o *options) {
		if c != nil {
			o.closers = append(o.closers, c)
		}
	}
}

// Managed is the lifecycle state machine for one remote object. The zero
// value is not usable; construct with New.
type Managed[S any] struct {
	kind      Kind
	adapter   Adapter[S]
	sessionID string
	log       *slog.Logger
	closers   []io.Closer

	// sem is the resource lock. held is only true while a caller owns sem.
	sem      *semaphore.Weighted
	held     atomic.Bool
	state    atomic.Pointer[S]
	disposed atomic.Bool
}

// New returns a resource in the not-created state.
func New[S any](kind Kind, adapter Adapter[S], opts ...Option) *Managed[S] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component(string(kind))
	}
	return &Managed[S]{
		kind:      kind,
		adapter:   adapter,
		sessionID: o.sessionID,
		log:       o.logger,
		closers:   o.closers,
		sem:       semaphore.NewWeighted(1),
	}
}

// Kind returns the resource kind.
func (m *Managed[S]) Kind() Kind {
	return m.kind
}

// SessionID returns the owning session, or "" for externally managed resources.
func (m *Managed[S]) SessionID() string {
	return m.sessionID
}

// Exists reports whether the cached snapshot carries an identity. It never
// contacts the engine.
func (m *Managed[S]) Exists() bool {
	st := m.state.Load()
	return st != nil && m.adapter.Identity(*st) != ""
}

// State returns the cached snapshot, or ErrNotFound if the resource does not
// exist.
func (m *Managed[S]) State() (S, error) {
	st := m.state.Load()
	if st == nil || m.adapter.Identity(*st) == "" {
		var zero S
		return zero, fmt.Errorf("%s: %w", m.kind, ErrNotFound)
	}
	return *st, nil
}

// Disposed reports whether Dispose has completed.
func (m *Managed[S]) Disposed() bool {
	return m.disposed.Load()
}

// Locked reports whether an operation currently holds the resource lock.
func (m *Managed[S]) Locked() bool {
	return m.held.Load()
}

// Create creates the remote object unless it already exists.
func (m *Managed[S]) Create(ctx context.Context) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if m.disposed.Load() {
		return fmt.Errorf("create %s: %w", m.kind, ErrDisposed)
	}
	return m.unsafeCreate(ctx)
}

// Delete removes the remote object if it exists. On failure the cached state
// is kept so that a retry issues the request again.
func (m *Managed[S]) Delete(ctx context.Context) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return m.unsafeDelete(ctx)
}

// Refresh re-reads the snapshot of an existing resource. If the engine no
// longer knows the object the cache is cleared and the error is returned.
func (m *Managed[S]) Refresh(ctx context.Context) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return m.unsafeRefresh(ctx)
}

// Apply runs fn against the existing resource while holding the lock, then
// refreshes the cached snapshot. op names the operation in errors.
func (m *Managed[S]) Apply(ctx context.Context, op string, fn func(ctx context.Context, id string) error) error {
	unlock, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := m.identity()
	if err != nil {
		return err
	}
	if err := fn(ctx, id); err != nil {
		metrics.Observe(string(m.kind), op, metrics.ResultError)
		return WrapEngine(m.kind, op, id, err)
	}
	metrics.Observe(string(m.kind), op, metrics.ResultSuccess)
	return m.unsafeRefresh(ctx)
}

// Dispose releases the resource. Session-owned resources are deleted first;
// if that fails the error is returned and the resource stays undisposed so
// the call can be retried. Resources without a session are left untouched on
// the engine. Calling Dispose again after success is a no-op.
func (m *Managed[S]) Dispose(ctx context.Context) error {
	if m.disposed.Load() {
		return nil
	}
	if m.sessionID != "" {
		if err := m.Delete(ctx); err != nil {
			return err
		}
	}
	if !m.disposed.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Debug("resource disposed", slog.String("kind", string(m.kind)))

	var err error
	for _, c := range m.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (m *Managed[S]) acquire(ctx context.Context) (func(), error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", m.kind, err)
	}
	m.held.Store(true)
	return func() {
		m.held.Store(false)
		m.sem.Release(1)
	}, nil
}

func (m *Managed[S]) identity() (string, error) {
	st := m.state.Load()
	if st == nil {
		return "", fmt.Errorf("%s: %w", m.kind, ErrNotFound)
	}
	id := m.adapter.Identity(*st)
	if id == "" {
		return "", fmt.Errorf("%s: %w", m.kind, ErrNotFound)
	}
	return id, nil
}

func (m *Managed[S]) unsafeCreate(ctx context.Context) error {
	if !m.held.Load() {
		return fmt.Errorf("create %s: %w", m.kind, ErrLockNotHeld)
	}
	if m.Exists() {
		metrics.Observe(string(m.kind), "create", metrics.ResultNoop)
		return nil
	}

	id, err := m.adapter.Create(ctx)
	if err != nil {
		metrics.Observe(string(m.kind), "create", metrics.ResultError)
		return WrapEngine(m.kind, "create", "", err)
	}
	st, err := m.adapter.Lookup(ctx, id)
	if err != nil {
		metrics.Observe(string(m.kind), "create", metrics.ResultError)
		return WrapEngine(m.kind, "lookup", id, err)
	}
	m.state.Store(&st)

	metrics.Observe(string(m.kind), "create", metrics.ResultSuccess)
	m.log.Debug("resource created", slog.String("kind", string(m.kind)), slog.String("id", id))
	return nil
}

func (m *Managed[S]) unsafeDelete(ctx context.Context) error {
	if !m.held.Load() {
		return fmt.Errorf("delete %s: %w", m.kind, ErrLockNotHeld)
	}
	id, err := m.identity()
	if err != nil {
		metrics.Observe(string(m.kind), "delete", metrics.ResultNoop)
		return nil
	}

	if err := m.adapter.Delete(ctx, id); err != nil {
		metrics.Observe(string(m.kind), "delete", metrics.ResultError)
		return WrapEngine(m.kind, "delete", id, err)
	}
	m.state.Store(nil)

	metrics.Observe(string(m.kind), "delete", metrics.ResultSuccess)
	m.log.Debug("resource deleted", slog.String("kind", string(m.kind)), slog.String("id", id))
	return nil
}

func (m *Managed[S]) unsafeRefresh(ctx context.Context) error {
	if !m.held.Load() {
		return fmt.Errorf("refresh %s: %w", m.kind, ErrLockNotHeld)
	}
	id, err := m.identity()
	if err != nil {
		return err
	}

	st, err := m.adapter.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			m.state.Store(nil)
		}
		return WrapEngine(m.kind, "lookup", id, err)
	}
	m.state.Store(&st)
	return nil
}
