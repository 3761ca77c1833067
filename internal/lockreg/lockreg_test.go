package lockreg

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWith_SerializesSameName(t *testing.T) {
	t.Parallel()
	r := New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.With(context.Background(), "show:1", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside, "critical section must never be entered twice at once")
	require.Equal(t, 1, r.Len())
}

func TestAcquire_DifferentNamesAreIndependent(t *testing.T) {
	t.Parallel()
	r := New()

	releaseA, err := r.Acquire(context.Background(), "show:1")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := r.Acquire(ctx, "show:2")
	require.NoError(t, err, "a held lock must not block a different name")
	releaseB()
}

func TestAcquire_HonoursContext(t *testing.T) {
	t.Parallel()
	r := New()

	release, err := r.Acquire(context.Background(), SettingsKey)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, SettingsKey)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWith_ReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()
	r := New()
	boom := errors.New("boom")

	err := r.With(context.Background(), "k", func() error { return boom })
	require.ErrorIs(t, err, boom)

	require.Panics(t, func() {
		_ = r.With(context.Background(), "k", func() error { panic("bad") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.With(ctx, "k", func() error { return nil }))
}

func TestRelease_IsIdempotent(t *testing.T) {
	t.Parallel()
	r := New()

	release, err := r.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	release2, err := r.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release2()
}

func TestShowKey(t *testing.T) {
	require.Equal(t, "show:42", ShowKey(42))
}
