// Package state persists the sessions started by the CLI so that later
// invocations can tear them down.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/internal/sentinel"
)

const (
	// ErrNoSession is returned when a requested session is not recorded.
	ErrNoSession = sentinel.Error("no such session")

	fileName      = "sessions.json"
	schemaVersion = 1
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Backend stores the encoded session document.
type Backend interface {
	// Load returns the stored document, or nil if nothing was written yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	// Lock takes an exclusive lock on the document until unlock is called.
	Lock(ctx context.Context) (unlock func(), err error)
	// Location names the document in messages.
	Location() string
}

// Store is the list of recorded sessions kept in a Backend.
type Store struct {
	backend Backend
	log     *slog.Logger
}

// NewStore returns a store kept in a local file under dir.
func NewStore(dir string) *Store {
	log := logging.Component("state")
	return New(&fileBackend{path: filepath.Join(dir, fileName), log: log})
}

func New(b Backend) *Store {
	return &Store{backend: b, log: logging.Component("state")}
}

// Path returns where the sessions are kept.
func (s *Store) Path() string {
	return s.backend.Location()
}

// List returns every recorded session, oldest first.
func (s *Store) List(ctx context.Context) ([]*ir.Session, error) {
	unlock, err := s.backend.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Sessions, nil
}

// Get returns the session with the given ID. An empty id selects the most
// recent session.
func (s *Store) Get(ctx context.Context, id string) (*ir.Session, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(sessions) == 0 {
			return nil, ErrNoSession
		}
		return sessions[len(sessions)-1], nil
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
}

// Record inserts sess, replacing any session with the same ID.
func (s *Store) Record(ctx context.Context, sess *ir.Session) error {
	return s.update(ctx, func(doc *ir.Sessions) {
		doc.Sessions = slices.DeleteFunc(doc.Sessions, func(o *ir.Session) bool { return o.ID == sess.ID })
		doc.Sessions = append(doc.Sessions, sess)
	})
}

// Remove drops the session with the given ID. Removing an unknown session is
// not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.update(ctx, func(doc *ir.Sessions) {
		doc.Sessions = slices.DeleteFunc(doc.Sessions, func(o *ir.Session) bool { return o.ID == id })
	})
}

func (s *Store) update(ctx context.Context, fn func(doc *ir.Sessions)) error {
	unlock, err := s.backend.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return err
	}
	fn(doc)
	return s.write(ctx, doc)
}

func (s *Store) read(ctx context.Context) (*ir.Sessions, error) {
	raw, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &ir.Sessions{Version: schemaVersion}, nil
	}

	var doc ir.Sessions
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session store %s: %w", s.Path(), err)
	}
	if doc.Version > schemaVersion {
		return nil, fmt.Errorf("session store %s has version %d, this build supports %d", s.Path(), doc.Version, schemaVersion)
	}
	return &doc, nil
}

func (s *Store) write(ctx context.Context, doc *ir.Sessions) error {
	doc.Version = schemaVersion
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session store: %w", err)
	}
	if err := s.backend.Save(ctx, append(content, '\n')); err != nil {
		return err
	}
	s.log.Debug("session store written", slog.String("location", s.Path()), slog.Int("sessions", len(doc.Sessions)))
	return nil
}
