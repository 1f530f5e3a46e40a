package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"webnotes-server/internal/access"
	"webnotes-server/internal/dbx"
	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/repository"
	"webnotes-server/internal/share"
	"webnotes-server/internal/websocket"
)

const defaultVersionLimit = 20

type NoteService struct {
	db          *sql.DB
	repos       repository.Manager
	versionRepo repository.NoteVersionRepository
	lease       time.Duration
	clock       clockwork.Clock
	notifier    Notifier
	log         logging.Logger
}

func NewNoteService(
	db *sql.DB,
	repos repository.Manager,
	versionRepo repository.NoteVersionRepository,
	lease time.Duration,
	clock clockwork.Clock,
	notifier Notifier,
	log logging.Logger,
) *NoteService {
	if versionRepo == nil {
		versionRepo = repository.NopNoteVersionRepository{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &NoteService{
		db:          db,
		repos:       repos,
		versionRepo: versionRepo,
		lease:       lease,
		clock:       clock,
		notifier:    notifier,
		log:         log.With("component", "notes"),
	}
}

// Save is the combined commit issued by the editor. A request without ID
// creates a note owned by actor. Otherwise the note row is locked, write
// access is checked against it and title, content and lock state are
// replaced in one compare-and-swap update. The share list is reconciled
// only when actor owns the note; anyone else's list is discarded.
func (s *NoteService) Save(ctx context.Context, actor domain.Identity, req *domain.SaveNoteRequest) (*domain.Note, error) {
	now := s.clock.Now()

	inUse, until := "", (*time.Time)(nil)
	if req.InUse {
		u := now.Add(s.lease)
		inUse, until = actor.Username, &u
	}

	var (
		saved    *domain.Note
		previous *domain.Note
		plan     share.Plan
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		notes := s.repos.Notes(tx)
		shares := s.repos.Shares(tx)

		if req.ID == nil {
			created, err := notes.Create(ctx, &domain.Note{
				OwnerID:    actor.ID,
				Title:      req.Title,
				Content:    req.Content,
				InUse:      inUse,
				InUseUntil: until,
			}, now)
			if err != nil {
				return fmt.Errorf("failed to create note: %w", err)
			}
			if req.SharedUserIDs != nil {
				req.Normalize(actor.ID)
				plan = share.Diff(actor.ID, nil, req.SharedUserIDs)
				if err := applyShares(ctx, shares, created.ID, plan); err != nil {
					return err
				}
				created.SharedUserIDs = reconciled(nil, plan)
			}
			saved = created
			return nil
		}

		current, err := notes.FindByIDForUpdate(ctx, *req.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &access.Denied{Op: access.Write, Reason: domain.ErrNotVisible}
			}
			return fmt.Errorf("failed to load note: %w", err)
		}
		if err := access.Evaluate(actor, current, access.Write, now); err != nil {
			return err
		}
		previous = current

		next := *current
		next.Title = req.Title
		next.Content = req.Content
		next.InUse = inUse
		next.InUseUntil = until

		updated, err := notes.Update(ctx, &next, actor.Username, now)
		if err != nil {
			if errors.Is(err, domain.ErrLockedByOther) {
				return &access.Denied{Op: access.Write, Reason: domain.ErrLockedByOther, Holder: current.InUse}
			}
			return fmt.Errorf("failed to update note: %w", err)
		}

		if req.SharedUserIDs != nil && access.Evaluate(actor, current, access.Share, now) == nil {
			req.Normalize(current.OwnerID)
			plan = share.Diff(current.OwnerID, current.SharedUserIDs, req.SharedUserIDs)
			if err := applyShares(ctx, shares, current.ID, plan); err != nil {
				return err
			}
			updated.SharedUserIDs = reconciled(current.SharedUserIDs, plan)
		}
		saved = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterSave(ctx, actor, saved, previous, plan)
	return present(saved, actor.ID, now), nil
}

func applyShares(ctx context.Context, store share.Store, noteID int64, plan share.Plan) error {
	if err := share.Apply(ctx, store, noteID, plan); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %v", domain.ErrUnknownUser, err)
		}
		return fmt.Errorf("failed to reconcile shares: %w", err)
	}
	return nil
}

// reconciled returns current with plan applied, sorted.
func reconciled(current []int64, plan share.Plan) []int64 {
	ids := make([]int64, 0, len(current)+len(plan.Added))
	for _, id := range current {
		if !slices.Contains(plan.Removed, id) {
			ids = append(ids, id)
		}
	}
	ids = append(ids, plan.Added...)
	slices.Sort(ids)
	return ids
}

func (s *NoteService) afterSave(ctx context.Context, actor domain.Identity, saved, previous *domain.Note, plan share.Plan) {
	if err := s.versionRepo.Save(ctx, &domain.NoteVersion{
		NoteID:  saved.ID,
		Title:   saved.Title,
		Content: saved.Content,
		Editor:  actor.Username,
		SavedAt: saved.ModifiedAt,
	}); err != nil {
		s.log.Warn(ctx, "failed to archive note version", "note_id", saved.ID, "error", err)
	}

	s.notifier.NotifyUsers(audience(saved), websocket.TypeNoteUpdate, websocket.NoteUpdatePayload{
		NoteID:     saved.ID,
		Title:      saved.Title,
		Content:    saved.Content,
		ModifiedAt: saved.ModifiedAt,
		InUse:      saved.InUse,
		Editor:     actor.Username,
	})
	if len(plan.Removed) > 0 {
		s.notifier.NotifyUsers(plan.Removed, websocket.TypeNoteDelete, websocket.NoteDeletePayload{NoteID: saved.ID, By: actor.Username})
	}
	if previous != nil && previous.InUse != saved.InUse {
		s.notifier.NotifyUsers(audience(saved), websocket.TypeNoteLock, lockPayload(saved.ID, saved.InUse, saved.InUseUntil))
	}

	s.log.Debug(ctx, "note saved", "note_id", saved.ID, "user", actor.Username, "shares_added", len(plan.Added), "shares_removed", len(plan.Removed))
}

// Get returns the note if actor can see it. The share list is only
// disclosed to the owner.
func (s *NoteService) Get(ctx context.Context, actor domain.Identity, noteID int64) (*domain.Note, error) {
	note, err := visibleNote(ctx, s.repos.Notes(s.db), actor, noteID, access.Read)
	if err != nil {
		return nil, err
	}
	return present(note, actor.ID, s.clock.Now()), nil
}

// List returns every note actor owns or that is shared with actor, most
// recently modified first.
func (s *NoteService) List(ctx context.Context, actor domain.Identity) ([]*domain.Note, error) {
	notes, err := s.repos.Notes(s.db).ListVisibleTo(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	now := s.clock.Now()
	views := make([]*domain.Note, 0, len(notes))
	for _, n := range notes {
		views = append(views, present(n, actor.ID, now))
	}
	return views, nil
}

// DeleteResult tells whether Delete removed the note or only the caller's
// share relation.
type DeleteResult struct {
	NoteID   int64 `json:"noteID"`
	Unshared bool  `json:"unshared"`
}

// Delete removes the note when actor owns it. For a shared user it removes
// only their own share relation and leaves the note intact.
func (s *NoteService) Delete(ctx context.Context, actor domain.Identity, noteID int64) (*DeleteResult, error) {
	var note *domain.Note
	result := &DeleteResult{NoteID: noteID}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		notes := s.repos.Notes(tx)

		current, err := notes.FindByIDForUpdate(ctx, noteID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &access.Denied{Op: access.Delete, Reason: domain.ErrNotVisible}
			}
			return fmt.Errorf("failed to load note: %w", err)
		}
		note = current

		switch err := access.Evaluate(actor, current, access.Delete, s.clock.Now()); {
		case err == nil:
			if err := notes.Delete(ctx, noteID); err != nil {
				return fmt.Errorf("failed to delete note: %w", err)
			}
			return nil
		case errors.Is(err, domain.ErrNotOwner):
			result.Unshared = true
			if err := s.repos.Shares(tx).Remove(ctx, noteID, actor.ID); err != nil {
				return fmt.Errorf("failed to remove share: %w", err)
			}
			if current.InUse == actor.Username {
				if _, err := notes.ClearInUse(ctx, noteID, actor.Username); err != nil {
					return fmt.Errorf("failed to release lock: %w", err)
				}
			}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	if result.Unshared {
		s.log.Info(ctx, "share removed by recipient", "note_id", noteID, "user", actor.Username)
		s.notifier.NotifyUsers([]int64{actor.ID}, websocket.TypeNoteDelete, websocket.NoteDeletePayload{NoteID: noteID, By: actor.Username})
		return result, nil
	}

	if err := s.versionRepo.DeleteAll(ctx, noteID); err != nil {
		s.log.Warn(ctx, "failed to drop note versions", "note_id", noteID, "error", err)
	}
	s.log.Info(ctx, "note deleted", "note_id", noteID, "user", actor.Username)
	s.notifier.NotifyUsers(audience(note), websocket.TypeNoteDelete, websocket.NoteDeletePayload{NoteID: noteID, By: actor.Username})
	return result, nil
}

// Versions returns the archived revisions of a note visible to actor,
// newest first.
func (s *NoteService) Versions(ctx context.Context, actor domain.Identity, noteID int64, limit int) ([]*domain.NoteVersion, error) {
	if _, err := visibleNote(ctx, s.repos.Notes(s.db), actor, noteID, access.Read); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultVersionLimit
	}

	versions, err := s.versionRepo.List(ctx, noteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}
