package volume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/testbed/internal/enginetest"
	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/pkg/resource"
	"github.com/picklr-io/testbed/pkg/session"
)

func newBuilder(eng *enginetest.Engine) Builder {
	return NewBuilder().WithEngine(eng).WithLogger(logging.Discard())
}

func TestVolume_CreateDelete(t *testing.T) {
	eng := enginetest.New()
	v, err := newBuilder(eng).WithName("data").WithDriverOpt("type", "tmpfs").Build()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Create(ctx))
	name, err := v.Name()
	require.NoError(t, err)
	assert.Equal(t, "data", name)
	mp, err := v.Mountpoint()
	require.NoError(t, err)
	assert.Contains(t, mp, "data")

	require.NoError(t, v.Delete(ctx))
	require.NoError(t, v.Delete(ctx))
	assert.Equal(t, 1, eng.Calls("RemoveVolume"))
	_, err = v.Name()
	assert.ErrorIs(t, err, resource.ErrNotFound)
}

func TestVolume_ConcurrentCreate(t *testing.T) {
	eng := enginetest.New()
	v, err := newBuilder(eng).Build()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Create(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, eng.Calls("CreateVolume"))
}

func TestVolume_DeleteWaitsForInFlightCreate(t *testing.T) {
	eng := enginetest.New()
	v, err := newBuilder(eng).WithName("slow").Build()
	require.NoError(t, err)
	ctx := context.Background()

	release := eng.Hold("CreateVolume")
	created := make(chan error, 1)
	go func() { created <- v.Create(ctx) }()

	// Wait until Create holds the lock, then queue a Delete behind it.
	require.Eventually(t, v.Locked, time.Second, time.Millisecond)
	deleted := make(chan error, 1)
	go func() { deleted <- v.Delete(ctx) }()

	select {
	case <-deleted:
		t.Fatal("delete finished while create was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	require.NoError(t, <-created)
	require.NoError(t, <-deleted)
	assert.Equal(t, 1, eng.Calls("RemoveVolume"))
	assert.False(t, v.Exists())
}

func TestVolume_SessionDispose(t *testing.T) {
	eng := enginetest.New()
	v, err := newBuilder(eng).WithName("cache").WithSessionID("s1").Build()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Create(ctx))

	info, ok := eng.Volume("cache")
	require.True(t, ok)
	assert.Equal(t, "true", info.Labels[session.LabelManaged])

	eng.Fail("RemoveVolume", errors.New("volume is in use"))
	require.Error(t, v.Dispose(ctx))
	assert.False(t, v.Disposed())
	assert.True(t, v.Exists())

	eng.Fail("RemoveVolume", nil)
	require.NoError(t, v.Dispose(ctx))
	assert.True(t, v.Disposed())
	_, ok = eng.Volume("cache")
	assert.False(t, ok)
}

func TestBuilder_Defaults(t *testing.T) {
	b1 := NewBuilder()
	b2 := b1.WithName("explicit").WithLabel("a", "b")

	assert.Equal(t, DefaultDriver, b1.Config().Driver)
	assert.NotEqual(t, "explicit", b1.Config().Name)
	assert.Nil(t, b1.Config().Labels)
	assert.Equal(t, "explicit", b2.Config().Name)
}

func TestBuilder_BuildValidates(t *testing.T) {
	_, err := Builder{}.Build()
	assert.ErrorIs(t, err, resource.ErrConfiguration)
}
