// Package repository implements the PostgreSQL note store: users, notes with
// their in-use lock columns, and note share relations. Repositories are bound
// to a dbx.DBTX so services can run them inside a transaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"webnotes-server/internal/dbx"
	"webnotes-server/internal/migrations"
)

type Manager interface {
	Users(db dbx.DBTX) UserRepository
	Notes(db dbx.DBTX) NoteRepository
	Shares(db dbx.DBTX) ShareRepository
}

type PostgresManager struct{}

func NewPostgresManager() *PostgresManager {
	return &PostgresManager{}
}

func (m *PostgresManager) Users(db dbx.DBTX) UserRepository {
	return NewUserRepository(db)
}

func (m *PostgresManager) Notes(db dbx.DBTX) NoteRepository {
	return NewNoteRepository(db)
}

func (m *PostgresManager) Shares(db dbx.DBTX) ShareRepository {
	return NewShareRepository(db)
}

// gooseUpContext is replaced in tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func (m *PostgresManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Open connects to PostgreSQL through the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}
