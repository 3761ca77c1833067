package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// Reaper evicts realtime clients that stopped answering pings. Evicting the
// editor force-releases its lock so another client can take it.
type Reaper struct {
	live      *LiveController
	conns     *repository.ConnectionRepo
	hub       *broadcast.Hub
	tolerance time.Duration
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewReaper constructs a Reaper that sweeps every interval and evicts
// clients silent for longer than tolerance.
func NewReaper(live *LiveController, conns *repository.ConnectionRepo, hub *broadcast.Hub, tolerance, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{live: live, conns: conns, hub: hub, tolerance: tolerance, interval: interval, log: log, now: time.Now}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reaper sweep failed", "err", err)
			}
		}
	}
}

// Sweep evicts every stale client once and returns how many were evicted.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.tolerance)
	stale, err := r.conns.Stale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range stale {
		evicted, err := r.live.evict(ctx, c.ShowID, c.InternalID, "liveness timeout", cutoff)
		if err != nil {
			r.log.Error("evict stale client", "client", c.InternalID, "err", err)
			continue
		}
		if !evicted {
			continue
		}
		if r.hub != nil {
			r.hub.Disconnect(c.InternalID)
		}
		if c.IsEditor {
			r.live.audit(ctx, queue.ShowEvent{Kind: queue.KindEditorReaped, ShowID: c.ShowID, ClientID: c.InternalID})
		}
		r.log.Info("stale client evicted", "client", c.InternalID, "show_id", c.ShowID, "editor", c.IsEditor)
		n++
	}
	return n, nil
}
