package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

func TestEditorLock_ConflictUntilSessionStops(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.withScript(t)
	a, b := e.client(t), e.client(t)

	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, a.ID))
	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, a.ID), "holder re-acquires")
	require.ErrorIs(t, e.live.AcquireEditorLock(ctx, e.show.ID, b.ID), repository.ErrEditorConflict)
	require.ErrorIs(t, e.live.ReleaseEditorLock(ctx, e.show.ID, b.ID), repository.ErrForbidden)

	sess, err := e.live.StartSession(ctx, e.show.ID, &a.ID, nil)
	require.NoError(t, err)
	_, err = e.live.StopSession(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, b.ID))
	st, err := e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, *st.EditorID)
}

func TestEditorLock_ConcurrentAcquireExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	const n = 16
	ids := make([]string, n)
	for i := range ids {
		ids[i] = e.client(t).ID
	}

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.live.AcquireEditorLock(ctx, e.show.ID, id)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, repository.ErrEditorConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(n-1), conflicts.Load())

	list, err := e.conns.ListForShow(ctx, e.show.ID)
	require.NoError(t, err)
	editors := 0
	for _, c := range list {
		if c.IsEditor {
			editors++
		}
	}
	require.Equal(t, 1, editors)
}

func TestStartSession_Rules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.live.StartSession(ctx, e.show.ID, nil, nil)
	require.ErrorIs(t, err, repository.ErrNoScript)

	_, err = e.scripts.CreateScript(ctx, e.show.ID)
	require.NoError(t, err)
	_, err = e.live.StartSession(ctx, e.show.ID, nil, nil)
	require.ErrorIs(t, err, repository.ErrNoScript, "script without a current revision")

	e.withRevisionOnly(t)
	sess, err := e.live.StartSession(ctx, e.show.ID, nil, nil)
	require.NoError(t, err)
	_, err = e.live.StartSession(ctx, e.show.ID, nil, nil)
	require.ErrorIs(t, err, repository.ErrSessionActive)

	st, err := e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, StateLive, st.State)
	require.Equal(t, sess.ID, st.Session.ID)
}

func (e *env) withRevisionOnly(t *testing.T) {
	t.Helper()
	_, err := e.scripts.CreateRevision(context.Background(), e.show.ID, nil, "", nil)
	require.NoError(t, err)
}

func TestStartSession_ConflictsWithOtherEditor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.withScript(t)
	a, b := e.client(t), e.client(t)
	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, a.ID))

	_, err := e.live.StartSession(ctx, e.show.ID, &b.ID, nil)
	require.ErrorIs(t, err, repository.ErrEditorConflict)
	st, err := e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, StateEditing, st.State)
}

func TestIntervals(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.withScript(t)
	sess, err := e.live.StartSession(ctx, e.show.ID, nil, nil)
	require.NoError(t, err)

	act := uint64(1)
	iv, err := e.live.BeginInterval(ctx, sess.ID, &act)
	require.NoError(t, err)
	require.Equal(t, int64(600), iv.InitialLength)
	_, err = e.live.BeginInterval(ctx, sess.ID, &act)
	require.ErrorIs(t, err, repository.ErrIntervalConflict)

	st, err := e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, StateInterval, st.State)
	require.Equal(t, iv.ID, st.Interval.ID)

	report, err := e.live.EndInterval(ctx, iv.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.ElapsedSeconds, 0.0)
	require.InDelta(t, 600+report.ElapsedSeconds, report.TotalSeconds, 0.001)
	_, err = e.live.EndInterval(ctx, iv.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	st, err = e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, StateLive, st.State)

	_, err = e.live.BeginInterval(ctx, sess.ID, nil)
	require.NoError(t, err, "a new interval may open after the previous one ended")
}

func TestUpdatePosition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.withScript(t)
	a, b := e.client(t), e.client(t)
	sess, err := e.live.StartSession(ctx, e.show.ID, &a.ID, nil)
	require.NoError(t, err)
	drain(t, b)

	require.NoError(t, e.live.UpdatePosition(ctx, sess.ID, "line:1", a.ID))
	require.NoError(t, e.live.UpdatePosition(ctx, sess.ID, "line:2", b.ID))
	require.Equal(t, []string{EvPositionChanged, EvPositionChanged}, drain(t, b))

	got, err := e.live.Session(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "line:2", *got.LatestLineRef)
	require.Equal(t, b.ID, *got.ClientInternalID)
	require.Equal(t, a.ID, *got.OriginClientID)

	_, err = e.live.StopSession(ctx, sess.ID)
	require.NoError(t, err)
	require.ErrorIs(t, e.live.UpdatePosition(ctx, sess.ID, "line:3", a.ID), repository.ErrSessionEnded)

	got, err = e.live.Session(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "line:2", *got.LatestLineRef, "late update discarded")
}

func TestStopSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.withScript(t)
	a := e.client(t)
	sess, err := e.live.StartSession(ctx, e.show.ID, &a.ID, nil)
	require.NoError(t, err)
	_, err = e.live.BeginInterval(ctx, sess.ID, nil)
	require.NoError(t, err)

	ended, err := e.live.StopSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "ENDED", ended.Status)
	require.Nil(t, ended.CurrentIntervalID)
	require.NotNil(t, ended.EndedAt)
	_, err = e.live.StopSession(ctx, sess.ID)
	require.ErrorIs(t, err, repository.ErrSessionEnded)

	st, err := e.live.State(ctx, e.show.ID)
	require.NoError(t, err)
	require.Equal(t, StateEnded, st.State)
	require.Nil(t, st.EditorID)

	intervals, err := e.live.Intervals(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.False(t, intervals[0].Open())

	require.Equal(t, []string{queue.KindRevisionCreated, queue.KindSessionStarted, queue.KindSessionStopped}, e.events.kinds())
	require.Contains(t, drain(t, a), EvStopShow)
}

func TestDisconnect_ReleasesEditor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.client(t), e.client(t)
	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, a.ID))
	require.NoError(t, e.live.Disconnect(ctx, a.ID))
	require.NoError(t, e.live.Disconnect(ctx, a.ID))
	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, b.ID))
}

func TestReaper_ForceReleasesStaleEditor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, b := e.client(t), e.client(t)
	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, a.ID))

	reaper := NewReaper(e.live, e.conns, e.hub, 30*time.Second, time.Second, nil)
	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "fresh clients survive")

	now := time.Now()
	require.NoError(t, e.live.Touch(ctx, b.ID, nil, &now))
	require.NoError(t, e.live.Touch(ctx, a.ID, nil, ptr(now.Add(-time.Minute))))
	reaper.now = func() time.Time { return now.Add(10 * time.Second) }

	n, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	<-a.Done()

	require.NoError(t, e.live.AcquireEditorLock(ctx, e.show.ID, b.ID))
	require.Contains(t, e.events.kinds(), queue.KindEditorReaped)
	require.Contains(t, drain(t, b), EvEditorReleased)
}

func ptr[T any](v T) *T { return &v }
