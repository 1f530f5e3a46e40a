package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/service"
	"webnotes-server/internal/websocket"
	"webnotes-server/pkg/policy"
)

const testToken = "good-token"

var alice = domain.Identity{ID: 1, Username: "alice"}

type stubAuth struct {
	registerFn func(req *domain.RegisterRequest) (*domain.User, error)
	loginFn    func(req *domain.LoginRequest) (*domain.LoginResponse, error)
	changeFn   func(actor domain.Identity, req *domain.ChangePasswordRequest) error
	deleted    []domain.Identity
	existing   map[string]bool
}

func (s *stubAuth) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token != testToken {
		return nil, domain.ErrInvalidCredential
	}
	id := alice
	return &id, nil
}

func (s *stubAuth) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	return s.registerFn(req)
}

func (s *stubAuth) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	return s.loginFn(req)
}

func (s *stubAuth) ChangePassword(ctx context.Context, actor domain.Identity, req *domain.ChangePasswordRequest) error {
	return s.changeFn(actor, req)
}

func (s *stubAuth) DeleteAccount(ctx context.Context, actor domain.Identity) error {
	s.deleted = append(s.deleted, actor)
	return nil
}

func (s *stubAuth) UsernameExists(ctx context.Context, name string) (bool, error) {
	return s.existing[name], nil
}

type stubUsers struct {
	users []*domain.User
}

func (s *stubUsers) Me(ctx context.Context, actor domain.Identity) (*domain.User, error) {
	return &domain.User{ID: actor.ID, Name: actor.Username}, nil
}

func (s *stubUsers) ListOthers(ctx context.Context, actor domain.Identity) ([]*domain.User, error) {
	return s.users, nil
}

type stubNotes struct {
	saveFn     func(actor domain.Identity, req *domain.SaveNoteRequest) (*domain.Note, error)
	getFn      func(noteID int64) (*domain.Note, error)
	deleteFn   func(noteID int64) (*service.DeleteResult, error)
	notes      []*domain.Note
	gotLimit   int
	versions   []*domain.NoteVersion
	versionErr error
}

func (s *stubNotes) Save(ctx context.Context, actor domain.Identity, req *domain.SaveNoteRequest) (*domain.Note, error) {
	return s.saveFn(actor, req)
}

func (s *stubNotes) Get(ctx context.Context, actor domain.Identity, noteID int64) (*domain.Note, error) {
	return s.getFn(noteID)
}

func (s *stubNotes) List(ctx context.Context, actor domain.Identity) ([]*domain.Note, error) {
	return s.notes, nil
}

func (s *stubNotes) Delete(ctx context.Context, actor domain.Identity, noteID int64) (*service.DeleteResult, error) {
	return s.deleteFn(noteID)
}

func (s *stubNotes) Versions(ctx context.Context, actor domain.Identity, noteID int64, limit int) ([]*domain.NoteVersion, error) {
	s.gotLimit = limit
	return s.versions, s.versionErr
}

// stubLocks grants locks to whoever asks first and records releases.
type stubLocks struct {
	mu       sync.Mutex
	holders  map[int64]string
	released [][]int64
	err      error
}

func newStubLocks() *stubLocks {
	return &stubLocks{holders: make(map[int64]string)}
}

func (s *stubLocks) Acquire(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	holder, ok := s.holders[noteID]
	if !ok || holder == actor.Username {
		s.holders[noteID] = actor.Username
		return &domain.LockState{NoteID: noteID, Held: true, Holder: actor.Username}, nil
	}
	return &domain.LockState{NoteID: noteID, ReadOnly: true, Holder: holder}, nil
}

func (s *stubLocks) Release(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.holders[noteID] == actor.Username {
		delete(s.holders, noteID)
	}
	return &domain.LockState{NoteID: noteID}, nil
}

func (s *stubLocks) Heartbeat(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error) {
	return s.Acquire(ctx, actor, noteID)
}

func (s *stubLocks) ReleaseAll(ctx context.Context, username string, noteIDs []int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, noteIDs)
	n := 0
	for _, id := range noteIDs {
		if s.holders[id] == username {
			delete(s.holders, id)
			n++
		}
	}
	return n
}

func (s *stubLocks) releasedCalls() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int64(nil), s.released...)
}

func (s *stubLocks) holder(noteID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[noteID]
}

type testServer struct {
	auth    *stubAuth
	users   *stubUsers
	notes   *stubNotes
	locks   *stubLocks
	manager *websocket.Manager
	router  *mux.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logging.Nop()
	v := policy.NewValidator()
	ts := &testServer{
		auth:  &stubAuth{existing: map[string]bool{}},
		users: &stubUsers{},
		notes: &stubNotes{},
		locks: newStubLocks(),
	}
	ts.manager = websocket.NewManager(websocket.Options{
		MaxConnPerUser: 5,
		MaxMessageSize: 1 << 16,
		WriteWait:      time.Second,
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
	}, log)
	ts.manager.SetMessageHandler(NewWebSocketMessageHandler(ts.locks, ts.manager, log))

	ts.router = NewRouter(Handlers{
		Auth:      NewAuthHandler(ts.auth, v, log),
		User:      NewUserHandler(ts.users, ts.auth, v, log),
		Note:      NewNoteHandler(ts.notes, ts.locks, v, log),
		WebSocket: NewWebSocketHandler(ts.manager, nil, log),
	}, ts.auth, RouterConfig{
		AllowedOrigins: "*",
		AllowedMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowedHeaders: "Content-Type,Authorization",
	}, log)
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends an authenticated request unless token is empty.
func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
