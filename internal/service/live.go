package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamteamprod/digiscript-live/internal/broadcast"
	"github.com/dreamteamprod/digiscript-live/internal/config"
	"github.com/dreamteamprod/digiscript-live/internal/lockreg"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/queue"
	"github.com/dreamteamprod/digiscript-live/internal/repository"
)

// Live states of a show.
const (
	StateIdle     = "IDLE"
	StateEditing  = "EDITING"
	StateLive     = "LIVE"
	StateInterval = "INTERVAL"
	StateEnded    = "ENDED"
)

// LiveState is the derived live status of a show.
type LiveState struct {
	ShowID   uint64             `json:"show_id"`
	State    string             `json:"state"`
	Session  *model.ShowSession `json:"session"`
	Interval *model.Interval    `json:"interval"`
	EditorID *string            `json:"editor_client_id"`
}

// IntervalReport describes a closed interval. TotalSeconds is the planned
// length plus the time the interval actually ran.
type IntervalReport struct {
	Interval       model.Interval `json:"interval"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	InitialLength  int64          `json:"initial_length"`
	TotalSeconds   float64        `json:"total_seconds"`
}

// LiveController is the live session state machine of every show. All
// transitions of a show run inside the lock registry section of that show,
// and each transition commits in one transaction before it is broadcast.
type LiveController struct {
	notifier
	db       *sql.DB
	shows    *repository.ShowRepo
	scripts  *repository.ScriptRepo
	sessions *repository.ShowSessionRepo
	conns    *repository.ConnectionRepo
	locks    *lockreg.Registry
	settings *config.Settings
}

// NewLiveController constructs a LiveController.
func NewLiveController(db *sql.DB, shows *repository.ShowRepo, scripts *repository.ScriptRepo,
	sessions *repository.ShowSessionRepo, conns *repository.ConnectionRepo, locks *lockreg.Registry,
	settings *config.Settings, hub *broadcast.Hub, events EventPublisher, log *slog.Logger) *LiveController {
	if log == nil {
		log = slog.Default()
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &LiveController{
		notifier: notifier{hub: hub, events: events, log: log},
		db:       db,
		shows:    shows,
		scripts:  scripts,
		sessions: sessions,
		conns:    conns,
		locks:    locks,
		settings: settings,
	}
}

// inShow runs fn in a transaction under the show lock. The transaction is
// committed before after runs, still under the lock, so broadcasts leave in
// the order the transitions were applied.
func (l *LiveController) inShow(ctx context.Context, showID uint64, fn func(tx *sql.Tx) error, after func()) error {
	return l.locks.With(ctx, lockreg.ShowKey(showID), func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		if after != nil {
			after()
		}
		return nil
	})
}

// State derives the live state of a show: LIVE or INTERVAL while a session
// runs, EDITING while a client holds the editor lock, ENDED when the last
// session has ended and IDLE otherwise.
func (l *LiveController) State(ctx context.Context, showID uint64) (*LiveState, error) {
	show, err := l.shows.GetByID(ctx, showID)
	if err != nil {
		return nil, err
	}
	st := &LiveState{ShowID: showID, State: StateIdle}
	if editor, err := l.conns.Editor(ctx, showID); err == nil {
		st.EditorID = &editor.InternalID
		st.State = StateEditing
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if show.CurrentSessionID != nil {
		sess, err := l.sessions.Get(ctx, *show.CurrentSessionID)
		if err != nil {
			return nil, err
		}
		st.Session = sess
		st.State = StateLive
		if sess.Status == model.SessionInterval && sess.CurrentIntervalID != nil {
			st.State = StateInterval
			if iv, err := l.sessions.Interval(ctx, *sess.CurrentIntervalID); err == nil {
				st.Interval = iv
			}
		}
		return st, nil
	}
	if st.State == StateIdle {
		past, err := l.sessions.ListForShow(ctx, showID)
		if err != nil {
			return nil, err
		}
		if len(past) > 0 && past[0].Status == model.SessionEnded {
			st.State = StateEnded
			st.Session = &past[0]
		}
	}
	return st, nil
}

// Connect records a newly connected realtime client.
func (l *LiveController) Connect(ctx context.Context, c model.Connection) error {
	if _, err := l.shows.GetByID(ctx, c.ShowID); err != nil {
		return err
	}
	return l.conns.Create(ctx, c)
}

// Disconnect removes a client's record. If it held the editor lock the
// lock is released with it.
func (l *LiveController) Disconnect(ctx context.Context, internalID string) error {
	conn, err := l.conns.Get(ctx, internalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = l.evict(ctx, conn.ShowID, internalID, "disconnect", time.Time{})
	return err
}

// evict deletes a connection under its show lock and announces a released
// editor lock. A non-zero cutoff spares a client that answered after it,
// since it may have ponged while the caller was deciding.
func (l *LiveController) evict(ctx context.Context, showID uint64, internalID, reason string, cutoff time.Time) (bool, error) {
	wasEditor, evicted := false, false
	err := l.inShow(ctx, showID, func(tx *sql.Tx) error {
		conn, err := l.conns.GetTx(ctx, tx, internalID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !cutoff.IsZero() && conn.LastPong != nil && !conn.LastPong.Before(cutoff) {
			return nil
		}
		wasEditor, evicted = conn.IsEditor, true
		return l.conns.DeleteTx(ctx, tx, internalID)
	}, func() {
		if wasEditor {
			l.log.Info("editor lock released", "show_id", showID, "client", internalID, "reason", reason)
			l.broadcast(ctx, showID, OpEditor, EvEditorReleased, editorPayload{ShowID: showID, ClientID: internalID})
		}
	})
	return evicted, err
}

type editorPayload struct {
	ShowID   uint64 `json:"show_id"`
	ClientID string `json:"client_id"`
}

// AcquireEditorLock makes clientID the editor of a show. The check for an
// existing editor and the set happen in one critical section, so of two
// racing clients exactly one succeeds; the other gets ErrEditorConflict.
// Acquiring a lock already held by the caller succeeds.
func (l *LiveController) AcquireEditorLock(ctx context.Context, showID uint64, clientID string) error {
	acquired := false
	return l.inShow(ctx, showID, func(tx *sql.Tx) error {
		conn, err := l.conns.GetTx(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if conn.ShowID != showID {
			return fmt.Errorf("%w: client %s follows show %d", repository.ErrIntegrity, clientID, conn.ShowID)
		}
		var took bool
		took, err = l.takeEditorTx(ctx, tx, showID, clientID)
		acquired = took
		return err
	}, func() {
		if acquired {
			l.broadcast(ctx, showID, OpEditor, EvEditorAcquired, editorPayload{ShowID: showID, ClientID: clientID})
		}
	})
}

// takeEditorTx sets the editor flag unless another client holds it. It
// reports whether the flag changed.
func (l *LiveController) takeEditorTx(ctx context.Context, tx *sql.Tx, showID uint64, clientID string) (bool, error) {
	editor, err := l.conns.EditorTx(ctx, tx, showID)
	switch {
	case err == nil && editor.InternalID == clientID:
		return false, nil
	case err == nil:
		return false, repository.ErrEditorConflict
	case !errors.Is(err, repository.ErrNotFound):
		return false, err
	}
	if err := l.conns.SetEditorTx(ctx, tx, clientID, true); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseEditorLock releases the editor lock of a show. Only the holder
// may release it; releasing when nobody holds it succeeds.
func (l *LiveController) ReleaseEditorLock(ctx context.Context, showID uint64, clientID string) error {
	released := false
	return l.inShow(ctx, showID, func(tx *sql.Tx) error {
		editor, err := l.conns.EditorTx(ctx, tx, showID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if editor.InternalID != clientID {
			return fmt.Errorf("%w: editor lock held by another client", repository.ErrForbidden)
		}
		released = true
		return l.conns.SetEditorTx(ctx, tx, clientID, false)
	}, func() {
		if released {
			l.broadcast(ctx, showID, OpEditor, EvEditorReleased, editorPayload{ShowID: showID, ClientID: clientID})
		}
	})
}

// StartSession starts a live session of a show. The show needs a script
// with a current revision. When clientID is set that client becomes the
// session's origin and takes the editor lock, which fails with
// ErrEditorConflict if another client holds it.
func (l *LiveController) StartSession(ctx context.Context, showID uint64, clientID *string, userID *uint64) (*model.ShowSession, error) {
	var sess *model.ShowSession
	err := l.inShow(ctx, showID, func(tx *sql.Tx) error {
		show, err := l.shows.GetByIDTx(ctx, tx, showID)
		if err != nil {
			return err
		}
		if show.CurrentSessionID != nil {
			return repository.ErrSessionActive
		}
		script, err := l.scripts.ScriptByShowTx(ctx, tx, showID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && script.CurrentRevision == nil) {
			return repository.ErrNoScript
		}
		if err != nil {
			return err
		}
		if clientID != nil {
			conn, err := l.conns.GetTx(ctx, tx, *clientID)
			if err != nil {
				return err
			}
			if conn.ShowID != showID {
				return fmt.Errorf("%w: client %s follows show %d", repository.ErrIntegrity, *clientID, conn.ShowID)
			}
			if _, err := l.takeEditorTx(ctx, tx, showID, *clientID); err != nil {
				return err
			}
		}
		sess, err = l.sessions.CreateTx(ctx, tx, showID, userID, clientID)
		if err != nil {
			return err
		}
		return l.shows.SetCurrentSessionTx(ctx, tx, showID, &sess.ID)
	}, func() {
		l.broadcast(ctx, showID, OpShowSessionData, EvStartShow, sess)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("show session started", "show_id", showID, "session_id", sess.ID)
	l.audit(ctx, queue.ShowEvent{Kind: queue.KindSessionStarted, ShowID: showID, UserID: userID, SessionID: &sess.ID, ClientID: deref(clientID)})
	return sess, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// showOfSession resolves the show of a session; sessions never change show.
func (l *LiveController) showOfSession(ctx context.Context, sessionID uint64) (uint64, error) {
	sess, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.ShowID, nil
}

// liveSessionTx loads a session and fails with ErrSessionEnded once it has
// ended.
func (l *LiveController) liveSessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) (*model.ShowSession, error) {
	sess, err := l.sessions.GetTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionEnded {
		return nil, repository.ErrSessionEnded
	}
	return sess, nil
}

// BeginInterval opens an interval in a live session. Its planned length is
// the interval default of the runtime settings.
func (l *LiveController) BeginInterval(ctx context.Context, sessionID uint64, actID *uint64) (*model.Interval, error) {
	showID, err := l.showOfSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	length := int64(0)
	if l.settings != nil {
		length = l.settings.Snapshot().IntervalDefaultSeconds
	}
	var iv *model.Interval
	err = l.inShow(ctx, showID, func(tx *sql.Tx) error {
		if _, err := l.liveSessionTx(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := l.sessions.OpenIntervalTx(ctx, tx, sessionID); err == nil {
			return repository.ErrIntervalConflict
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		iv, err = l.sessions.CreateIntervalTx(ctx, tx, sessionID, actID, length)
		if err != nil {
			return err
		}
		return l.sessions.SetStatusTx(ctx, tx, sessionID, model.SessionInterval, &iv.ID)
	}, func() {
		l.broadcast(ctx, showID, OpShowSessionData, EvIntervalStarted, iv)
	})
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// EndInterval closes an open interval and returns how long it ran. A
// closed or unknown interval yields ErrNotFound.
func (l *LiveController) EndInterval(ctx context.Context, intervalID uint64) (*IntervalReport, error) {
	iv, err := l.sessions.Interval(ctx, intervalID)
	if err != nil {
		return nil, err
	}
	showID, err := l.showOfSession(ctx, iv.SessionID)
	if err != nil {
		return nil, err
	}
	var report *IntervalReport
	err = l.inShow(ctx, showID, func(tx *sql.Tx) error {
		current, err := l.sessions.IntervalTx(ctx, tx, intervalID)
		if err != nil {
			return err
		}
		if !current.Open() {
			return fmt.Errorf("%w: interval %d already ended", repository.ErrNotFound, intervalID)
		}
		closed, err := l.sessions.EndIntervalTx(ctx, tx, intervalID)
		if err != nil {
			return err
		}
		sess, err := l.sessions.GetTx(ctx, tx, closed.SessionID)
		if err != nil {
			return err
		}
		if sess.Status == model.SessionInterval && sess.CurrentIntervalID != nil && *sess.CurrentIntervalID == intervalID {
			if err := l.sessions.SetStatusTx(ctx, tx, sess.ID, model.SessionLive, nil); err != nil {
				return err
			}
		}
		elapsed := closed.EndedAt.Sub(closed.StartedAt).Seconds()
		report = &IntervalReport{
			Interval:       *closed,
			ElapsedSeconds: elapsed,
			InitialLength:  closed.InitialLength,
			TotalSeconds:   float64(closed.InitialLength) + elapsed,
		}
		return nil
	}, func() {
		l.broadcast(ctx, showID, OpShowSessionData, EvIntervalEnded, report)
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, queue.ShowEvent{Kind: queue.KindIntervalEnded, ShowID: showID, SessionID: &iv.SessionID,
		Detail: fmt.Sprintf("elapsed=%.0fs", report.ElapsedSeconds)})
	return report, nil
}

type positionPayload struct {
	SessionID uint64 `json:"session_id"`
	LineRef   string `json:"line_ref"`
	ClientID  string `json:"client_id"`
}

// UpdatePosition moves the live position of a session. The last writer
// wins and becomes the position source. An update that arrives after the
// session ended is discarded with ErrSessionEnded.
func (l *LiveController) UpdatePosition(ctx context.Context, sessionID uint64, lineRef, originClientID string) error {
	showID, err := l.showOfSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return l.inShow(ctx, showID, func(tx *sql.Tx) error {
		if _, err := l.liveSessionTx(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := l.sessions.SetPositionTx(ctx, tx, sessionID, lineRef); err != nil {
			return err
		}
		return l.sessions.SetClientTx(ctx, tx, sessionID, &originClientID)
	}, func() {
		l.broadcast(ctx, showID, OpPosition, EvPositionChanged,
			positionPayload{SessionID: sessionID, LineRef: lineRef, ClientID: originClientID})
	})
}

// StopSession ends a live session, clears the show's current session and
// releases the editor lock of the client that started it.
func (l *LiveController) StopSession(ctx context.Context, sessionID uint64) (*model.ShowSession, error) {
	showID, err := l.showOfSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var (
		ended    *model.ShowSession
		released string
	)
	err = l.inShow(ctx, showID, func(tx *sql.Tx) error {
		sess, err := l.liveSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.CurrentIntervalID != nil {
			if _, err := l.sessions.EndIntervalTx(ctx, tx, *sess.CurrentIntervalID); err != nil {
				return err
			}
		}
		if err := l.sessions.EndTx(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := l.shows.SetCurrentSessionTx(ctx, tx, showID, nil); err != nil {
			return err
		}
		if sess.OriginClientID != nil {
			editor, err := l.conns.EditorTx(ctx, tx, showID)
			switch {
			case err == nil && editor.InternalID == *sess.OriginClientID:
				if err := l.conns.SetEditorTx(ctx, tx, editor.InternalID, false); err != nil {
					return err
				}
				released = editor.InternalID
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return err
			}
		}
		ended, err = l.sessions.GetTx(ctx, tx, sessionID)
		return err
	}, func() {
		l.broadcast(ctx, showID, OpShowSessionData, EvStopShow, ended)
		if released != "" {
			l.broadcast(ctx, showID, OpEditor, EvEditorReleased, editorPayload{ShowID: showID, ClientID: released})
		}
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("show session stopped", "show_id", showID, "session_id", sessionID)
	l.audit(ctx, queue.ShowEvent{Kind: queue.KindSessionStopped, ShowID: showID, SessionID: &sessionID, UserID: ended.UserID})
	return ended, nil
}

// Sessions lists the sessions of a show, newest first.
func (l *LiveController) Sessions(ctx context.Context, showID uint64) ([]model.ShowSession, error) {
	if _, err := l.shows.GetByID(ctx, showID); err != nil {
		return nil, err
	}
	return l.sessions.ListForShow(ctx, showID)
}

// Intervals lists the intervals of a session.
func (l *LiveController) Intervals(ctx context.Context, sessionID uint64) ([]model.Interval, error) {
	if _, err := l.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return l.sessions.Intervals(ctx, sessionID)
}

// Session returns one session.
func (l *LiveController) Session(ctx context.Context, sessionID uint64) (*model.ShowSession, error) {
	return l.sessions.Get(ctx, sessionID)
}

// Connection returns the record of a connected client.
func (l *LiveController) Connection(ctx context.Context, internalID string) (*model.Connection, error) {
	return l.conns.Get(ctx, internalID)
}

// Touch records liveness timestamps of a client.
func (l *LiveController) Touch(ctx context.Context, internalID string, ping, pong *time.Time) error {
	if ping != nil {
		if err := l.conns.TouchPing(ctx, internalID, *ping); err != nil {
			return err
		}
	}
	if pong != nil {
		return l.conns.TouchPong(ctx, internalID, *pong)
	}
	return nil
}

// Interval returns one interval.
func (l *LiveController) Interval(ctx context.Context, intervalID uint64) (*model.Interval, error) {
	return l.sessions.Interval(ctx, intervalID)
}
