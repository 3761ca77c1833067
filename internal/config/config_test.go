package config

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DB_DRIVER", "sqlite")
	for _, k := range []string{"SQLITE_PATH", "APP_PORT", "ACCESS_TOKEN_TTL_MIN", "WS_PING_INTERVAL", "WS_PONG_TOLERANCE"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "digiscript.db", c.SQLitePath)
	require.Equal(t, 10*time.Second, c.PingInterval)
	require.Equal(t, 30*time.Second, c.PongTolerance)
	require.Equal(t, 15*time.Minute, c.AccessTTL)
	require.Equal(t, ":8080", c.Addr())
}

func TestLoad_ReportsEveryMissingVar(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_PORT", "x")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"JWT_SECRET", "DB_USER", "DB_NAME", "DB_PORT (not an integer)"} {
		require.Contains(t, err.Error(), key)
	}
}

func TestLoad_RejectsToleranceBelowPing(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("WS_PING_INTERVAL", "10s")
	t.Setenv("WS_PONG_TOLERANCE", "5s")
	_, err := Load()
	require.ErrorContains(t, err, "WS_PONG_TOLERANCE")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "ON")
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "250ms")
	require.True(t, envBool("X_BOOL", false))
	require.Equal(t, 7, envInt("X_INT", 7))
	require.Equal(t, 250*time.Millisecond, envDur("X_DUR", time.Second))
	require.Equal(t, map[string]bool{"GET": true, "HEAD": true}, parseMethods(" get, HEAD ,"))
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	c := LoadRateLimitConfig()
	require.Equal(t, 1, c.Capacity)
	require.Equal(t, 5*time.Minute, c.TTL)
}

func TestSettings_UpdateSerialised(t *testing.T) {
	s := NewSettings(lockreg.New(), SettingsValues{})
	require.Equal(t, int64(900), s.Snapshot().IntervalDefaultSeconds)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(context.Background(), func(v *SettingsValues) error {
				v.IntervalDefaultSeconds++
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int64(920), s.Snapshot().IntervalDefaultSeconds)

	_, err := s.Update(context.Background(), func(v *SettingsValues) error {
		v.IntervalDefaultSeconds = 0
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidSettings)
	require.Equal(t, int64(920), s.Snapshot().IntervalDefaultSeconds)
}

func TestSettings_SnapshotIsCopy(t *testing.T) {
	id := uint64(3)
	s := NewSettings(lockreg.New(), SettingsValues{CurrentShowID: &id})
	snap := s.Snapshot()
	*snap.CurrentShowID = 9
	require.Equal(t, uint64(3), *s.Snapshot().CurrentShowID)
}
