package config

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
)

// SettingsValues are the runtime-adjustable settings of the server.
type SettingsValues struct {
	CurrentShowID          *uint64 `json:"current_show_id"`
	DebugMode              bool    `json:"debug_mode"`
	IntervalDefaultSeconds int64   `json:"interval_default_seconds"`
}

// ErrInvalidSettings is returned by Update when the result fails validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings owns the runtime settings of one server. It is constructed by
// main and passed to the components that read it. Writers serialise on the
// lock registry's settings key; readers take a snapshot.
type Settings struct {
	locks *lockreg.Registry

	mu  sync.RWMutex
	val SettingsValues
}

// NewSettings constructs Settings with initial values.
func NewSettings(locks *lockreg.Registry, initial SettingsValues) *Settings {
	if initial.IntervalDefaultSeconds <= 0 {
		initial.IntervalDefaultSeconds = 15 * 60
	}
	return &Settings{locks: locks, val: initial}
}

// Snapshot returns a copy of the current values.
func (s *Settings) Snapshot() SettingsValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.val
	if v.CurrentShowID != nil {
		id := *v.CurrentShowID
		v.CurrentShowID = &id
	}
	return v
}

// Update applies fn to a copy of the values under the settings lock and
// stores the result when fn succeeds and the result is valid.
func (s *Settings) Update(ctx context.Context, fn func(*SettingsValues) error) (SettingsValues, error) {
	var out SettingsValues
	err := s.locks.With(ctx, lockreg.SettingsKey, func() error {
		next := s.Snapshot()
		if err := fn(&next); err != nil {
			return err
		}
		if next.IntervalDefaultSeconds <= 0 {
			return ErrInvalidSettings
		}
		s.mu.Lock()
		s.val = next
		s.mu.Unlock()
		out = next
		return nil
	})
	return out, err
}
