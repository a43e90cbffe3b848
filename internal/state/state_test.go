package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/testbed/internal/ir"
)

func TestStore_Empty(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	sessions, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStore_RecordGetRemove(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nested"))
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Record(ctx, &ir.Session{ID: "a", Manifest: "one.pkl", CreatedAt: now, Networks: []string{"n1"}}))
	require.NoError(t, s.Record(ctx, &ir.Session{ID: "b", Manifest: "two.pkl", CreatedAt: now}))

	latest, err := s.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, a.Networks)
	assert.True(t, now.Equal(a.CreatedAt))

	// Re-recording replaces and moves to the end.
	require.NoError(t, s.Record(ctx, &ir.Session{ID: "a", Manifest: "one.pkl", Containers: []string{"c1"}}))
	latest, err = s.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "a", latest.ID)
	assert.Equal(t, []string{"c1"}, latest.Containers)

	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "missing"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNoSession)

	sessions, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "b", sessions[0].ID)
}

func TestStore_ConcurrentRecords(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Record(ctx, &ir.Session{ID: string(rune('a' + i))}))
		}()
	}
	wg.Wait()

	sessions, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 10)
}

func TestStore_RejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(`{"version": 99, "sessions": []}`), 0o644))

	_, err := NewStore(dir).List(context.Background())
	assert.ErrorContains(t, err, "version 99")
}

func TestStore_LockHonoursContext(t *testing.T) {
	s := NewStore(t.TempDir())
	unlock, err := s.backend.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = NewStore(filepath.Dir(s.Path())).List(ctx)
	assert.Error(t, err)
}
