package repository

import (
	"context"

	"webnotes-server/internal/dbx"
)

// ShareRepository manages the (note, user) share relation. It satisfies
// share.Store.
type ShareRepository interface {
	ListUserIDs(ctx context.Context, noteID int64) ([]int64, error)
	Add(ctx context.Context, noteID, userID int64) error
	Remove(ctx context.Context, noteID, userID int64) error
	Exists(ctx context.Context, noteID, userID int64) (bool, error)
}

type shareRepository struct {
	db dbx.DBTX
}

func NewShareRepository(db dbx.DBTX) ShareRepository {
	return &shareRepository{db: db}
}

func (r *shareRepository) ListUserIDs(ctx context.Context, noteID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM note_shares WHERE note_id = $1 ORDER BY user_id`, noteID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dbError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return ids, nil
}

// Add is idempotent. Unknown notes or users surface as domain.ErrNotFound.
func (r *shareRepository) Add(ctx context.Context, noteID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO note_shares (note_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		noteID, userID)
	if err != nil {
		return dbError(err)
	}
	return nil
}

// Remove is idempotent.
func (r *shareRepository) Remove(ctx context.Context, noteID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM note_shares WHERE note_id = $1 AND user_id = $2`,
		noteID, userID)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (r *shareRepository) Exists(ctx context.Context, noteID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM note_shares WHERE note_id = $1 AND user_id = $2)`,
		noteID, userID).Scan(&exists)
	if err != nil {
		return false, dbError(err)
	}
	return exists, nil
}
