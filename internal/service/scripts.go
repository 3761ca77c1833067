// Package service composes the repositories into the operations exposed to
// clients. Every mutation of a show runs under the show's named lock, and
// each committed change is announced to connected clients through the hub
// and recorded as an audit event.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// Broadcast envelope names.
const (
	OpShowSessionData = "GET_SHOW_SESSION_DATA"
	OpScriptRevisions = "GET_SCRIPT_REVISIONS"
	OpCues            = "LOAD_CUES"
	OpCueTypes        = "GET_CUE_TYPES"
	OpEditor          = "GET_EDITOR_STATUS"
	OpPosition        = "SCRIPT_POSITION"
	OpSettings        = "GET_SETTINGS"

	EvStartShow       = "START_SHOW"
	EvStopShow        = "STOP_SHOW"
	EvIntervalStarted = "INTERVAL_STARTED"
	EvIntervalEnded   = "INTERVAL_ENDED"
	EvRevisionChanged = "SCRIPT_REVISION_CHANGED"
	EvRevisionsList   = "SCRIPT_REVISIONS_CHANGED"
	EvCuesChanged     = "CUES_CHANGED"
	EvCueTypesChanged = "CUE_TYPES_CHANGED"
	EvEditorAcquired  = "EDITOR_LOCK_ACQUIRED"
	EvEditorReleased  = "EDITOR_LOCK_RELEASED"
	EvPositionChanged = "POSITION_CHANGED"
	EvSettingsChanged = "SETTINGS_CHANGED"
)

// notifier is the part shared by every service: the hub for clients, the
// publisher for audit and a logger.
type notifier struct {
	hub    *broadcast.Hub
	events EventPublisher
	log    *slog.Logger
}

func (n notifier) broadcast(ctx context.Context, showID uint64, op, name string, payload any) {
	if n.hub == nil {
		return
	}
	if _, err := n.hub.Broadcast(ctx, broadcast.Event{EventType: op, EventName: name, Payload: payload, ShowID: showID}); err != nil {
		n.log.Warn("broadcast failed", "op", op, "event", name, "err", err)
	}
}

func (n notifier) audit(ctx context.Context, ev queue.ShowEvent) {
	if n.events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := n.events.Publish(ctx, ev); err != nil {
		n.log.Debug("audit event not published", "kind", ev.Kind, "err", err)
	}
}

// Scripts wraps the revision store and the cue graph. Writes are refused
// while the show is live.
type Scripts struct {
	notifier
	shows   *repository.ShowRepo
	scripts *repository.ScriptRepo
	cues    *repository.CueRepo
	locks   *lockreg.Registry
}

// NewScripts constructs the Scripts service.
func NewScripts(shows *repository.ShowRepo, scripts *repository.ScriptRepo, cues *repository.CueRepo,
	locks *lockreg.Registry, hub *broadcast.Hub, events EventPublisher, log *slog.Logger) *Scripts {
	if log == nil {
		log = slog.Default()
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &Scripts{
		notifier: notifier{hub: hub, events: events, log: log},
		shows:    shows,
		scripts:  scripts,
		cues:     cues,
		locks:    locks,
	}
}

// editable runs fn under the show lock after checking the show exists and
// has no live session.
func (s *Scripts) editable(ctx context.Context, showID uint64, fn func(show *model.Show) error) error {
	return s.locks.With(ctx, lockreg.ShowKey(showID), func() error {
		show, err := s.shows.GetByID(ctx, showID)
		if err != nil {
			return err
		}
		if show.CurrentSessionID != nil {
			return fmt.Errorf("%w: show %d is live", repository.ErrConflict, showID)
		}
		return fn(show)
	})
}

// Script returns the script of a show.
func (s *Scripts) Script(ctx context.Context, showID uint64) (*model.Script, error) {
	return s.scripts.ScriptByShow(ctx, showID)
}

// CreateScript creates the script of a show.
func (s *Scripts) CreateScript(ctx context.Context, showID uint64) (*model.Script, error) {
	var script *model.Script
	err := s.editable(ctx, showID, func(*model.Show) error {
		var err error
		script, err = s.scripts.CreateScript(ctx, showID)
		return err
	})
	return script, err
}

// revisionOf loads a revision and checks it belongs to the show's script.
func (s *Scripts) revisionOf(ctx context.Context, showID, revisionID uint64) (*model.Script, *model.ScriptRevision, error) {
	script, err := s.scripts.ScriptByShow(ctx, showID)
	if err != nil {
		return nil, nil, err
	}
	rev, err := s.scripts.Revision(ctx, revisionID)
	if err != nil {
		return nil, nil, err
	}
	if rev.ScriptID != script.ID {
		return nil, nil, repository.ErrNotFound
	}
	return script, rev, nil
}

type revisionPayload struct {
	ScriptID        uint64  `json:"script_id"`
	CurrentRevision *uint64 `json:"current_revision"`
}

func (s *Scripts) announceRevision(ctx context.Context, showID uint64) {
	script, err := s.scripts.ScriptByShow(ctx, showID)
	if err != nil {
		s.log.Warn("announce revision: load script", "show_id", showID, "err", err)
		return
	}
	s.broadcast(ctx, showID, OpScriptRevisions, EvRevisionChanged,
		revisionPayload{ScriptID: script.ID, CurrentRevision: script.CurrentRevision})
}

// CreateRevision writes a new revision of the show's script and makes it
// current.
func (s *Scripts) CreateRevision(ctx context.Context, showID uint64, lines []model.LineContent, description string, userID *uint64) (*model.ScriptRevision, error) {
	var rev *model.ScriptRevision
	err := s.editable(ctx, showID, func(*model.Show) error {
		script, err := s.scripts.ScriptByShow(ctx, showID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: show %d has no script", repository.ErrIntegrity, showID)
		}
		if err != nil {
			return err
		}
		rev, err = s.scripts.CreateRevision(ctx, script.ID, lines, description)
		if err != nil {
			return err
		}
		s.announceRevision(ctx, showID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("revision created", "show_id", showID, "revision", rev.Revision, "revision_id", rev.ID)
	s.audit(ctx, queue.ShowEvent{Kind: queue.KindRevisionCreated, ShowID: showID, UserID: userID, RevisionID: &rev.ID, Detail: description})
	return rev, nil
}

// SetCurrentRevision points the show's script at one of its revisions.
func (s *Scripts) SetCurrentRevision(ctx context.Context, showID, revisionID uint64) error {
	return s.editable(ctx, showID, func(*model.Show) error {
		script, _, err := s.revisionOf(ctx, showID, revisionID)
		if err != nil {
			return err
		}
		if err := s.scripts.SetCurrentRevision(ctx, script.ID, revisionID); err != nil {
			return err
		}
		s.announceRevision(ctx, showID)
		return nil
	})
}

// DeleteRevision deletes a non-root revision of the show's script.
func (s *Scripts) DeleteRevision(ctx context.Context, showID, revisionID uint64, userID *uint64) error {
	err := s.editable(ctx, showID, func(*model.Show) error {
		script, _, err := s.revisionOf(ctx, showID, revisionID)
		if err != nil {
			return err
		}
		changed, err := s.scripts.DeleteRevision(ctx, script.ID, revisionID)
		if err != nil {
			return err
		}
		if changed {
			s.announceRevision(ctx, showID)
		} else {
			s.broadcast(ctx, showID, OpScriptRevisions, EvRevisionsList, revisionPayload{ScriptID: script.ID, CurrentRevision: script.CurrentRevision})
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, queue.ShowEvent{Kind: queue.KindRevisionDeleted, ShowID: showID, UserID: userID, RevisionID: &revisionID})
	return nil
}

// RepairOrphans runs the orphan repair on the show's script.
func (s *Scripts) RepairOrphans(ctx context.Context, showID uint64, userID *uint64) (repository.RepairReport, error) {
	var report repository.RepairReport
	err := s.locks.With(ctx, lockreg.ShowKey(showID), func() error {
		script, err := s.scripts.ScriptByShow(ctx, showID)
		if err != nil {
			return err
		}
		report, err = s.scripts.RepairOrphans(ctx, script.ID)
		return err
	})
	if err != nil {
		return report, err
	}
	if len(report.Repaired) > 0 {
		s.audit(ctx, queue.ShowEvent{Kind: queue.KindOrphansRepaired, ShowID: showID, UserID: userID,
			Detail: fmt.Sprintf("%d repaired, %d unresolved", len(report.Repaired), len(report.Unresolved))})
	}
	return report, nil
}

// Chain returns the revision chain of the show's script.
func (s *Scripts) Chain(ctx context.Context, showID uint64) (iter.Seq2[model.ScriptRevision, error], error) {
	script, err := s.scripts.ScriptByShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	return s.scripts.Chain(ctx, script.ID), nil
}

// ListRevisions returns every revision of the show's script.
func (s *Scripts) ListRevisions(ctx context.Context, showID uint64) ([]model.ScriptRevision, error) {
	script, err := s.scripts.ScriptByShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	return s.scripts.ListRevisions(ctx, script.ID)
}

// Lines returns the lines of a revision of the show.
func (s *Scripts) Lines(ctx context.Context, showID, revisionID uint64) ([]model.ScriptLine, error) {
	if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
		return nil, err
	}
	return s.scripts.Lines(ctx, revisionID)
}

// CompressedContent returns the stored blob of a revision of the show.
func (s *Scripts) CompressedContent(ctx context.Context, showID, revisionID uint64) (string, error) {
	if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
		return "", err
	}
	return s.scripts.CompressedContent(ctx, revisionID)
}

// DeleteLine removes a line from a revision of the show.
func (s *Scripts) DeleteLine(ctx context.Context, showID, revisionID, lineID uint64) error {
	return s.editable(ctx, showID, func(*model.Show) error {
		if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
			return err
		}
		deleted, err := s.cues.DeleteLine(ctx, revisionID, lineID)
		if err != nil {
			return err
		}
		if len(deleted) > 0 {
			s.log.Debug("cues removed with line", "line_id", lineID, "cues", deleted)
		}
		s.broadcast(ctx, showID, OpCues, EvCuesChanged, echoRevision(revisionID))
		return nil
	})
}

func echoRevision(revisionID uint64) map[string]uint64 {
	return map[string]uint64{"revision_id": revisionID}
}

// CueTypes lists the cue types of a show.
func (s *Scripts) CueTypes(ctx context.Context, showID uint64) ([]model.CueType, error) {
	if _, err := s.shows.GetByID(ctx, showID); err != nil {
		return nil, err
	}
	return s.cues.ListCueTypes(ctx, showID)
}

// CreateCueType adds a cue type to a show.
func (s *Scripts) CreateCueType(ctx context.Context, ct model.CueType) (*model.CueType, error) {
	var out *model.CueType
	err := s.locks.With(ctx, lockreg.ShowKey(ct.ShowID), func() error {
		var err error
		out, err = s.cues.CreateCueType(ctx, ct)
		if err != nil {
			return err
		}
		s.broadcast(ctx, ct.ShowID, OpCueTypes, EvCueTypesChanged, out)
		return nil
	})
	return out, err
}

// DeleteCueType deletes a cue type of the show with its cues.
func (s *Scripts) DeleteCueType(ctx context.Context, showID, cueTypeID uint64, userID *uint64) error {
	err := s.editable(ctx, showID, func(*model.Show) error {
		ct, err := s.cues.CueType(ctx, cueTypeID)
		if err != nil {
			return err
		}
		if ct.ShowID != showID {
			return repository.ErrNotFound
		}
		if err := s.cues.DeleteCueType(ctx, cueTypeID); err != nil {
			return err
		}
		s.broadcast(ctx, showID, OpCueTypes, EvCueTypesChanged, map[string]uint64{"deleted": cueTypeID})
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, queue.ShowEvent{Kind: queue.KindCueTypeDeleted, ShowID: showID, UserID: userID,
		Detail: fmt.Sprintf("cue_type_id=%d", cueTypeID)})
	return nil
}

func (s *Scripts) cueTypeOf(ctx context.Context, showID, cueTypeID uint64) error {
	ct, err := s.cues.CueType(ctx, cueTypeID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: cue type %d does not exist", repository.ErrIntegrity, cueTypeID)
	}
	if err != nil {
		return err
	}
	if ct.ShowID != showID {
		return fmt.Errorf("%w: cue type %d belongs to another show", repository.ErrIntegrity, cueTypeID)
	}
	return nil
}

// CreateCue creates a cue on a line of a revision of the show.
func (s *Scripts) CreateCue(ctx context.Context, showID, cueTypeID uint64, ident string, revisionID, lineID uint64) (*model.Cue, error) {
	var cue *model.Cue
	err := s.editable(ctx, showID, func(*model.Show) error {
		if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
			return err
		}
		if err := s.cueTypeOf(ctx, showID, cueTypeID); err != nil {
			return err
		}
		var err error
		cue, err = s.cues.CreateCue(ctx, cueTypeID, ident, revisionID, lineID)
		if err != nil {
			return err
		}
		s.broadcast(ctx, showID, OpCues, EvCuesChanged, echoRevision(revisionID))
		return nil
	})
	return cue, err
}

// UpdateCue changes the ident or type of a cue of the show.
func (s *Scripts) UpdateCue(ctx context.Context, showID uint64, cue model.Cue) error {
	return s.editable(ctx, showID, func(*model.Show) error {
		current, err := s.cues.CueByID(ctx, cue.ID)
		if err != nil {
			return err
		}
		if err := s.cueTypeOf(ctx, showID, current.CueTypeID); err != nil {
			return repository.ErrNotFound
		}
		if err := s.cueTypeOf(ctx, showID, cue.CueTypeID); err != nil {
			return err
		}
		if err := s.cues.UpdateCue(ctx, cue); err != nil {
			return err
		}
		s.broadcast(ctx, showID, OpCues, EvCuesChanged, cue)
		return nil
	})
}

// Associate places an existing cue of the show on a line.
func (s *Scripts) Associate(ctx context.Context, showID, revisionID, lineID, cueID uint64) error {
	return s.editable(ctx, showID, func(*model.Show) error {
		if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
			return err
		}
		cue, err := s.cues.CueByID(ctx, cueID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: cue %d does not exist", repository.ErrIntegrity, cueID)
		}
		if err != nil {
			return err
		}
		if err := s.cueTypeOf(ctx, showID, cue.CueTypeID); err != nil {
			return err
		}
		if err := s.cues.Associate(ctx, revisionID, lineID, cueID); err != nil {
			return err
		}
		s.broadcast(ctx, showID, OpCues, EvCuesChanged, echoRevision(revisionID))
		return nil
	})
}

// Disassociate removes a cue from a line; the cue is deleted with its last
// placement. It reports whether that happened.
func (s *Scripts) Disassociate(ctx context.Context, showID, revisionID, lineID, cueID uint64) (bool, error) {
	removed := false
	err := s.editable(ctx, showID, func(*model.Show) error {
		if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
			return err
		}
		var err error
		removed, err = s.cues.Disassociate(ctx, revisionID, lineID, cueID)
		if err != nil {
			return err
		}
		s.broadcast(ctx, showID, OpCues, EvCuesChanged, echoRevision(revisionID))
		return nil
	})
	return removed, err
}

// Cues returns the cues placed in a revision of the show.
func (s *Scripts) Cues(ctx context.Context, showID, revisionID uint64) ([]model.PlacedCue, error) {
	if _, _, err := s.revisionOf(ctx, showID, revisionID); err != nil {
		return nil, err
	}
	return s.cues.CuesForRevision(ctx, revisionID)
}
