package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 50 * time.Millisecond

// fileBackend keeps the document in a local file guarded by an advisory lock
// file next to it.
type fileBackend struct {
	path string
	log  *slog.Logger
}

func (b *fileBackend) Location() string {
	return b.path
}

func (b *fileBackend) Load(context.Context) ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session store %s: %w", b.path, err)
	}
	return raw, nil
}

// Save replaces the file atomically.
func (b *fileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	return nil
}

// Lock takes an exclusive advisory lock. The lock file is left on disk after
// release.
func (b *fileBackend) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	fl := flock.New(b.path + ".lock")

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session store %s: %w", b.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock session store %s: lock not acquired", b.path)
	}

	return func() {
		if err := fl.Close(); err != nil {
			b.log.Debug("failed to release session store lock", slog.String("path", fl.Path()), slog.Any("err", err))
		}
	}, nil
}
