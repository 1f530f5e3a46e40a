package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/share"
)

var _ share.Store = (ShareRepository)(nil)

func TestShareRepository_ListUserIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db)

	mock.ExpectQuery(`SELECT\s+user_id\s+FROM\s+note_shares\s+WHERE\s+note_id\s*=\s*\$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(2)).AddRow(int64(3)))

	ids, err := repo.ListUserIDs(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestShareRepository_AddIsIdempotent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+note_shares.*ON\s+CONFLICT\s+DO\s+NOTHING`).
		WithArgs(int64(5), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Add(context.Background(), 5, 2))
}

func TestShareRepository_AddUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+note_shares`).
		WithArgs(int64(5), int64(99)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "note_shares_user_id_fkey"})

	assert.ErrorIs(t, repo.Add(context.Background(), 5, 99), domain.ErrNotFound)
}

func TestShareRepository_RemoveAndExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewShareRepository(db)

	mock.ExpectExec(`DELETE\s+FROM\s+note_shares\s+WHERE\s+note_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2`).
		WithArgs(int64(5), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT\s+EXISTS`).
		WithArgs(int64(5), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	require.NoError(t, repo.Remove(context.Background(), 5, 2))
	ok, err := repo.Exists(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
