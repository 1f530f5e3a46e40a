package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"webnotes-server/internal/dbx"
	"webnotes-server/internal/domain"
)

type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note, now time.Time) (*domain.Note, error)
	FindByID(ctx context.Context, id int64) (*domain.Note, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*domain.Note, error)
	ListVisibleTo(ctx context.Context, userID int64) ([]*domain.Note, error)
	Update(ctx context.Context, note *domain.Note, actor string, now time.Time) (*domain.Note, error)
	Delete(ctx context.Context, id int64) error
	SetInUse(ctx context.Context, id int64, username string, now, until time.Time) (bool, error)
	RenewInUse(ctx context.Context, id int64, username string, until time.Time) (bool, error)
	ClearInUse(ctx context.Context, id int64, username string) (bool, error)
	ClearInUseByHolder(ctx context.Context, username string) (int64, error)
}

type noteRepository struct {
	db dbx.DBTX
}

func NewNoteRepository(db dbx.DBTX) NoteRepository {
	return &noteRepository{db: db}
}

const noteColumns = `n.id, n.owner_id, n.title, n.content, n.modified_at, n.in_use, n.in_use_until, s.user_id`

// lockFree builds the guard matching rows that are free, held by the user
// bound to placeholder actorArg, or whose lease ran out before nowArg.
func lockFree(actorArg, nowArg int) string {
	return fmt.Sprintf(`(in_use = '' OR in_use = $%d OR (in_use_until IS NOT NULL AND in_use_until <= $%d))`, actorArg, nowArg)
}

// Create inserts the note stamped with modified_at = now.
func (r *noteRepository) Create(ctx context.Context, note *domain.Note, now time.Time) (*domain.Note, error) {
	query := `
		INSERT INTO notes (owner_id, title, content, in_use, in_use_until, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, modified_at`

	created := *note
	err := r.db.QueryRowContext(ctx, query,
		note.OwnerID, note.Title, note.Content, note.InUse, note.InUseUntil, now,
	).Scan(&created.ID, &created.ModifiedAt)
	if err != nil {
		return nil, dbError(err)
	}
	created.SharedUserIDs = []int64{}
	return &created, nil
}

func (r *noteRepository) FindByID(ctx context.Context, id int64) (*domain.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes n
		LEFT JOIN note_shares s ON s.note_id = n.id
		WHERE n.id = $1
		ORDER BY s.user_id`
	return r.findOne(ctx, query, id)
}

// FindByIDForUpdate is FindByID taking a row lock on the note until the
// surrounding transaction ends.
func (r *noteRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes n
		LEFT JOIN note_shares s ON s.note_id = n.id
		WHERE n.id = $1
		ORDER BY s.user_id
		FOR UPDATE OF n`
	return r.findOne(ctx, query, id)
}

func (r *noteRepository) findOne(ctx context.Context, query string, id int64) (*domain.Note, error) {
	notes, err := r.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, domain.ErrNotFound
	}
	return notes[0], nil
}

// ListVisibleTo returns owned and shared notes with their share lists in one
// query, newest modification first.
func (r *noteRepository) ListVisibleTo(ctx context.Context, userID int64) ([]*domain.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes n
		LEFT JOIN note_shares s ON s.note_id = n.id
		WHERE n.owner_id = $1
		   OR EXISTS (SELECT 1 FROM note_shares v WHERE v.note_id = n.id AND v.user_id = $1)
		ORDER BY n.modified_at DESC, n.id DESC, s.user_id`

	notes, err := r.query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		n.IsShared = n.OwnerID != userID
	}
	return notes, nil
}

// query scans joined note/share rows, folding consecutive rows of the same
// note into one record.
func (r *noteRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Note, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var notes []*domain.Note
	var current *domain.Note
	for rows.Next() {
		var (
			n          domain.Note
			until      sql.NullTime
			sharedWith sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.ModifiedAt, &n.InUse, &until, &sharedWith); err != nil {
			return nil, dbError(err)
		}
		if current == nil || current.ID != n.ID {
			if until.Valid {
				t := until.Time
				n.InUseUntil = &t
			}
			n.SharedUserIDs = []int64{}
			current = &n
			notes = append(notes, current)
		}
		if sharedWith.Valid {
			current.SharedUserIDs = append(current.SharedUserIDs, sharedWith.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return notes, nil
}

// Update replaces title, content and lock columns of the note, guarded by a
// compare-and-swap on the in-use flag: the row is only written when it is
// free, held by actor, or its lease ran out at now. modified_at strictly
// increases.
// Returns ErrLockedByOther when the guard fails and ErrNotFound when the row
// does not exist.
func (r *noteRepository) Update(ctx context.Context, note *domain.Note, actor string, now time.Time) (*domain.Note, error) {
	query := `
		UPDATE notes
		SET title = $2,
		    content = $3,
		    in_use = $4,
		    in_use_until = $5,
		    modified_at = GREATEST($7, modified_at + interval '1 microsecond')
		WHERE id = $1
		  AND ` + lockFree(6, 7) + `
		RETURNING modified_at`

	updated := *note
	err := r.db.QueryRowContext(ctx, query,
		note.ID, note.Title, note.Content, note.InUse, note.InUseUntil, actor, now,
	).Scan(&updated.ModifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.missOrLocked(ctx, note.ID)
		}
		return nil, dbError(err)
	}
	return &updated, nil
}

func (r *noteRepository) missOrLocked(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return dbError(err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrLockedByOther
}

// Delete removes the note; its share relations cascade.
func (r *noteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	return expectOneRow(res, err)
}

// SetInUse takes or renews the lock for username until the given time.
// It reports false when another user holds a live lease or the note is gone.
func (r *noteRepository) SetInUse(ctx context.Context, id int64, username string, now, until time.Time) (bool, error) {
	query := `
		UPDATE notes
		SET in_use = $2, in_use_until = $3
		WHERE id = $1
		  AND ` + lockFree(2, 4)

	res, err := r.db.ExecContext(ctx, query, id, username, until, now)
	return affected(res, err)
}

// RenewInUse extends the lease of username. It reports false when username
// no longer holds the flag, even if the lease ran out without a new holder
// being recorded.
func (r *noteRepository) RenewInUse(ctx context.Context, id int64, username string, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notes SET in_use_until = $3 WHERE id = $1 AND in_use = $2`,
		id, username, until)
	return affected(res, err)
}

// ClearInUse frees the note if username holds it.
func (r *noteRepository) ClearInUse(ctx context.Context, id int64, username string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notes SET in_use = '', in_use_until = NULL WHERE id = $1 AND in_use = $2`,
		id, username)
	return affected(res, err)
}

// ClearInUseByHolder frees every note username holds and returns how many.
func (r *noteRepository) ClearInUseByHolder(ctx context.Context, username string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notes SET in_use = '', in_use_until = NULL WHERE in_use = $1`,
		username)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err)
	}
	return n > 0, nil
}
