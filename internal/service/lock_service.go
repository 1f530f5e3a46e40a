package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"webnotes-server/internal/access"
	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/repository"
	"webnotes-server/internal/websocket"
)

// LockService coordinates the per-note in-use flag. A note is Free or held
// by one username until its lease runs out. A refused acquire is not an
// error: the caller gets a read-only LockState.
type LockService struct {
	db       *sql.DB
	repos    repository.Manager
	lease    time.Duration
	clock    clockwork.Clock
	notifier Notifier
	log      logging.Logger
}

func NewLockService(db *sql.DB, repos repository.Manager, lease time.Duration, clock clockwork.Clock, notifier Notifier, log logging.Logger) *LockService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &LockService{
		db:       db,
		repos:    repos,
		lease:    lease,
		clock:    clock,
		notifier: notifier,
		log:      log.With("component", "lock"),
	}
}

// visibleNote loads the note and checks that actor can read it. Missing and
// invisible notes are indistinguishable to the caller.
func visibleNote(ctx context.Context, notes repository.NoteRepository, actor domain.Identity, noteID int64, op access.Operation) (*domain.Note, error) {
	note, err := notes.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &access.Denied{Op: op, Reason: domain.ErrNotVisible}
		}
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	if !access.CanRead(actor, note) {
		return nil, &access.Denied{Op: op, Reason: domain.ErrNotVisible}
	}
	return note, nil
}

// Acquire moves the note from Free to held by actor, or renews actor's
// lease. When another user holds a live lease the result is read-only.
func (s *LockService) Acquire(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	notes := s.repos.Notes(s.db)

	note, err := visibleNote(ctx, notes, actor, noteID, access.Write)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	until := now.Add(s.lease)
	ok, err := notes.SetInUse(ctx, noteID, actor.Username, now, until)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !ok {
		current, err := visibleNote(ctx, notes, actor, noteID, access.Write)
		if err != nil {
			return nil, err
		}
		holder := current.HolderAt(now)
		s.log.Debug(ctx, "lock refused", "note_id", noteID, "user", actor.Username, "holder", holder)
		return &domain.LockState{NoteID: noteID, ReadOnly: true, Holder: holder, ExpiresAt: current.InUseUntil}, nil
	}

	if note.HolderAt(now) != actor.Username {
		s.log.Info(ctx, "lock acquired", "note_id", noteID, "user", actor.Username)
		s.notifier.NotifyUsers(audience(note), websocket.TypeNoteLock, lockPayload(noteID, actor.Username, &until))
	}
	return &domain.LockState{NoteID: noteID, Held: true, Holder: actor.Username, ExpiresAt: &until}, nil
}

// Release frees the note if actor holds it. Releasing a free note, or a note
// held by someone else, changes nothing.
func (s *LockService) Release(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	notes := s.repos.Notes(s.db)

	note, err := visibleNote(ctx, notes, actor, noteID, access.Write)
	if err != nil {
		return nil, err
	}

	cleared, err := notes.ClearInUse(ctx, noteID, actor.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to release lock: %w", err)
	}
	if cleared {
		s.log.Info(ctx, "lock released", "note_id", noteID, "user", actor.Username)
		s.notifier.NotifyUsers(audience(note), websocket.TypeNoteLock, lockPayload(noteID, "", nil))
		return &domain.LockState{NoteID: noteID}, nil
	}

	now := s.clock.Now()
	holder := note.HolderAt(now)
	if holder != "" && holder != actor.Username {
		return &domain.LockState{NoteID: noteID, ReadOnly: true, Holder: holder, ExpiresAt: note.InUseUntil}, nil
	}
	return &domain.LockState{NoteID: noteID}, nil
}

// Heartbeat extends actor's lease. If the flag moved to someone else the
// result is read-only; if the note became free it is re-acquired.
func (s *LockService) Heartbeat(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	notes := s.repos.Notes(s.db)

	if _, err := visibleNote(ctx, notes, actor, noteID, access.Write); err != nil {
		return nil, err
	}

	until := s.clock.Now().Add(s.lease)
	ok, err := notes.RenewInUse(ctx, noteID, actor.Username, until)
	if err != nil {
		return nil, fmt.Errorf("failed to renew lock: %w", err)
	}
	if ok {
		return &domain.LockState{NoteID: noteID, Held: true, Holder: actor.Username, ExpiresAt: &until}, nil
	}
	return s.Acquire(ctx, actor, noteID)
}

// ReleaseAll is the cleanup path for a vanished client: it frees each listed
// note still held by username and returns how many were freed.
func (s *LockService) ReleaseAll(ctx context.Context, username string, noteIDs []int64) int {
	notes := s.repos.Notes(s.db)

	released := 0
	for _, id := range noteIDs {
		cleared, err := notes.ClearInUse(ctx, id, username)
		if err != nil {
			s.log.Warn(ctx, "cleanup release failed", "note_id", id, "user", username, "error", err)
			continue
		}
		if !cleared {
			continue
		}
		released++
		note, err := notes.FindByID(ctx, id)
		if err != nil {
			continue
		}
		s.notifier.NotifyUsers(audience(note), websocket.TypeNoteLock, lockPayload(id, "", nil))
	}

	if released > 0 {
		s.log.Info(ctx, "released locks of disconnected client", "user", username, "count", released)
	}
	return released
}
