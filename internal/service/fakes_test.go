package service

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"webnotes-server/internal/dbx"
	"webnotes-server/internal/domain"
	"webnotes-server/internal/repository"
	"webnotes-server/internal/websocket"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. It
// ignores the DBTX it is bound to; transactions are observed via sqlmock.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*domain.User
	notes    map[int64]*domain.Note
	shares   map[int64]map[int64]bool
	nextID   int64
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[int64]*domain.User),
		notes:  make(map[int64]*domain.Note),
		shares: make(map[int64]map[int64]bool),
	}
}

func (m *memStore) Users(dbx.DBTX) repository.UserRepository   { return (*memUsers)(m) }
func (m *memStore) Notes(dbx.DBTX) repository.NoteRepository   { return (*memNotes)(m) }
func (m *memStore) Shares(dbx.DBTX) repository.ShareRepository { return (*memShares)(m) }

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) addUser(name string) domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &domain.User{ID: m.id(), Name: name, PasswordHash: "x", CreatedAt: time.Now()}
	m.users[u.ID] = u
	return domain.Identity{ID: u.ID, Username: name}
}

func (m *memStore) addNote(owner domain.Identity, title string, sharedWith ...domain.Identity) *domain.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &domain.Note{ID: m.id(), OwnerID: owner.ID, Title: title, ModifiedAt: time.Now()}
	m.notes[n.ID] = n
	m.shares[n.ID] = map[int64]bool{}
	for _, u := range sharedWith {
		m.shares[n.ID][u.ID] = true
	}
	return n
}

func (m *memStore) sharesOf(noteID int64) []int64 {
	ids := []int64{}
	for id := range m.shares[noteID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *memStore) snapshot(noteID int64) *domain.Note {
	n, ok := m.notes[noteID]
	if !ok {
		return nil
	}
	c := *n
	c.SharedUserIDs = m.sharesOf(noteID)
	return &c
}

func (m *memStore) note(noteID int64) *domain.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(noteID)
}

func lockFreeAt(n *domain.Note, actor string, now time.Time) bool {
	return n.InUse == "" || n.InUse == actor || (n.InUseUntil != nil && !n.InUseUntil.After(now))
}

type memUsers memStore

func (r *memUsers) Create(ctx context.Context, name, hash string) (*domain.User, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return nil, domain.ErrAlreadyExists
		}
	}
	u := &domain.User{ID: m.id(), Name: name, PasswordHash: hash, CreatedAt: time.Now()}
	m.users[u.ID] = u
	c := *u
	return &c, nil
}

func (r *memUsers) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) FindByUsername(ctx context.Context, name string) (*domain.User, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.Name == name {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memUsers) List(ctx context.Context) ([]*domain.User, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	users := []*domain.User{}
	for _, u := range m.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (r *memUsers) UpdatePassword(ctx context.Context, id int64, hash string) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUsers) Delete(ctx context.Context, id int64) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.users, id)
	for noteID, n := range m.notes {
		if n.OwnerID == id {
			delete(m.notes, noteID)
			delete(m.shares, noteID)
		}
	}
	for _, s := range m.shares {
		delete(s, id)
	}
	return nil
}

type memNotes memStore

func (r *memNotes) Create(ctx context.Context, note *domain.Note, now time.Time) (*domain.Note, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	n := *note
	n.ID = m.id()
	n.ModifiedAt = now
	n.SharedUserIDs = nil
	m.notes[n.ID] = &n
	m.shares[n.ID] = map[int64]bool{}
	return m.snapshot(n.ID), nil
}

func (r *memNotes) FindByID(ctx context.Context, id int64) (*domain.Note, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	n := m.snapshot(id)
	if n == nil {
		return nil, domain.ErrNotFound
	}
	return n, nil
}

func (r *memNotes) FindByIDForUpdate(ctx context.Context, id int64) (*domain.Note, error) {
	return r.FindByID(ctx, id)
}

func (r *memNotes) ListVisibleTo(ctx context.Context, userID int64) ([]*domain.Note, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	notes := []*domain.Note{}
	for id, n := range m.notes {
		if n.OwnerID == userID || m.shares[id][userID] {
			s := m.snapshot(id)
			s.IsShared = n.OwnerID != userID
			notes = append(notes, s)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ModifiedAt.After(notes[j].ModifiedAt) })
	return notes, nil
}

func (r *memNotes) Update(ctx context.Context, note *domain.Note, actor string, now time.Time) (*domain.Note, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	n, ok := m.notes[note.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !lockFreeAt(n, actor, now) {
		return nil, domain.ErrLockedByOther
	}
	modified := now
	if !modified.After(n.ModifiedAt) {
		modified = n.ModifiedAt.Add(time.Microsecond)
	}
	n.Title, n.Content, n.InUse, n.InUseUntil, n.ModifiedAt = note.Title, note.Content, note.InUse, note.InUseUntil, modified
	return m.snapshot(n.ID), nil
}

func (r *memNotes) Delete(ctx context.Context, id int64) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.notes, id)
	delete(m.shares, id)
	return nil
}

func (r *memNotes) SetInUse(ctx context.Context, id int64, username string, now, until time.Time) (bool, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	n, ok := m.notes[id]
	if !ok || !lockFreeAt(n, username, now) {
		return false, nil
	}
	n.InUse, n.InUseUntil = username, &until
	return true, nil
}

func (r *memNotes) RenewInUse(ctx context.Context, id int64, username string, until time.Time) (bool, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok || n.InUse != username {
		return false, nil
	}
	n.InUseUntil = &until
	return true, nil
}

func (r *memNotes) ClearInUse(ctx context.Context, id int64, username string) (bool, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	n, ok := m.notes[id]
	if !ok || n.InUse != username {
		return false, nil
	}
	n.InUse, n.InUseUntil = "", nil
	return true, nil
}

func (r *memNotes) ClearInUseByHolder(ctx context.Context, username string) (int64, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notes {
		if n.InUse == username {
			n.InUse, n.InUseUntil = "", nil
			count++
		}
	}
	return count, nil
}

type memShares memStore

func (r *memShares) ListUserIDs(ctx context.Context, noteID int64) ([]int64, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharesOf(noteID), nil
}

func (r *memShares) Add(ctx context.Context, noteID, userID int64) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return domain.ErrNotFound
	}
	m.shares[noteID][userID] = true
	return nil
}

func (r *memShares) Remove(ctx context.Context, noteID, userID int64) error {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shares[noteID], userID)
	return nil
}

func (r *memShares) Exists(ctx context.Context, noteID, userID int64) (bool, error) {
	m := (*memStore)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares[noteID][userID], nil
}

type event struct {
	users   []int64
	msgType websocket.MessageType
	payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) NotifyUsers(userIDs []int64, msgType websocket.MessageType, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{users: slices.Clone(userIDs), msgType: msgType, payload: payload})
}

func (n *recordingNotifier) ofType(t websocket.MessageType) []event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event
	for _, e := range n.events {
		if e.msgType == t {
			out = append(out, e)
		}
	}
	return out
}

type memVersions struct {
	mu       sync.Mutex
	versions []*domain.NoteVersion
	deleted  []int64
	err      error
}

func (v *memVersions) Save(ctx context.Context, version *domain.NoteVersion) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.versions = append(v.versions, version)
	return nil
}

func (v *memVersions) List(ctx context.Context, noteID int64, limit int) ([]*domain.NoteVersion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []*domain.NoteVersion{}
	for i := len(v.versions) - 1; i >= 0 && len(out) < limit; i-- {
		if v.versions[i].NoteID == noteID {
			out = append(out, v.versions[i])
		}
	}
	return out, nil
}

func (v *memVersions) DeleteAll(ctx context.Context, noteID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, noteID)
	return nil
}

// newTxDB returns a sqlmock database; tests declare Begin/Commit/Rollback
// expectations for every transactional call.
func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}
