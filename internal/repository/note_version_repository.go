package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"webnotes-server/internal/domain"
)

// NoteVersionRepository archives saved note snapshots outside the primary
// store. It is best-effort history and never decides a save's outcome.
type NoteVersionRepository interface {
	Save(ctx context.Context, version *domain.NoteVersion) error
	List(ctx context.Context, noteID int64, limit int) ([]*domain.NoteVersion, error)
	DeleteAll(ctx context.Context, noteID int64) error
}

type noteVersionRepository struct {
	client *kivik.Client
	dbName string
}

type noteVersionDoc struct {
	Rev string `json:"_rev,omitempty"`
	domain.NoteVersion
}

// NewNoteVersionRepository connects to CouchDB at url and makes sure dbName
// exists.
func NewNoteVersionRepository(ctx context.Context, url, dbName string) (NoteVersionRepository, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database %s: %w", dbName, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", dbName, err)
		}
	}

	return &noteVersionRepository{client: client, dbName: dbName}, nil
}

func versionPrefix(noteID int64) string {
	return fmt.Sprintf("note_version:%d:", noteID)
}

// versionDocID zero-pads the timestamp so document IDs sort chronologically.
func versionDocID(noteID int64, savedAt time.Time) string {
	return fmt.Sprintf("%s%020d", versionPrefix(noteID), savedAt.UnixNano())
}

func (r *noteVersionRepository) Save(ctx context.Context, version *domain.NoteVersion) error {
	db := r.client.DB(r.dbName)

	docID := versionDocID(version.NoteID, version.SavedAt)
	if _, err := db.Put(ctx, docID, noteVersionDoc{NoteVersion: *version}); err != nil {
		return fmt.Errorf("failed to save note version: %w", err)
	}
	return nil
}

// List returns up to limit versions of the note, newest first.
func (r *noteVersionRepository) List(ctx context.Context, noteID int64, limit int) ([]*domain.NoteVersion, error) {
	db := r.client.DB(r.dbName)
	prefix := versionPrefix(noteID)

	rows := db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"include_docs": true,
		"descending":   true,
		"startkey":     prefix + "\ufff0",
		"endkey":       prefix,
		"limit":        limit,
	}))
	defer rows.Close()

	versions := []*domain.NoteVersion{}
	for rows.Next() {
		var doc noteVersionDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to read note version: %w", err)
		}
		v := doc.NoteVersion
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list note versions: %w", err)
	}
	return versions, nil
}

// DeleteAll drops the archived history of a deleted note.
func (r *noteVersionRepository) DeleteAll(ctx context.Context, noteID int64) error {
	db := r.client.DB(r.dbName)
	prefix := versionPrefix(noteID)

	rows := db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"startkey": prefix,
		"endkey":   prefix + "\ufff0",
	}))
	defer rows.Close()

	type target struct{ id, rev string }
	var targets []target
	for rows.Next() {
		id, err := rows.ID()
		if err != nil {
			return fmt.Errorf("failed to read note version id: %w", err)
		}
		var value struct {
			Rev string `json:"rev"`
		}
		if err := rows.ScanValue(&value); err != nil {
			return fmt.Errorf("failed to read note version rev: %w", err)
		}
		targets = append(targets, target{id: id, rev: value.Rev})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list note versions: %w", err)
	}

	for _, t := range targets {
		if _, err := db.Delete(ctx, t.id, t.rev); err != nil {
			return fmt.Errorf("failed to delete note version %s: %w", t.id, err)
		}
	}
	return nil
}

// NopNoteVersionRepository is used when no CouchDB is configured.
type NopNoteVersionRepository struct{}

func (NopNoteVersionRepository) Save(context.Context, *domain.NoteVersion) error { return nil }

func (NopNoteVersionRepository) List(context.Context, int64, int) ([]*domain.NoteVersion, error) {
	return []*domain.NoteVersion{}, nil
}

func (NopNoteVersionRepository) DeleteAll(context.Context, int64) error { return nil }
