package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"webnotes-server/internal/domain"
	"webnotes-server/pkg/response"
)

// fakeAPI serves the subset of the API the client uses, with a single
// in-memory lock per note and tokens equal to usernames.
type fakeAPI struct {
	mu         sync.Mutex
	notes      map[int64]*domain.Note
	saves      []domain.SaveNoteRequest
	heartbeats int
	releases   int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()

	api := &fakeAPI{notes: map[int64]*domain.Note{}}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/login", api.login).Methods("POST")
	v1.HandleFunc("/users", api.users).Methods("GET")
	v1.HandleFunc("/notes", api.save).Methods("POST")
	v1.HandleFunc("/notes/{id}", api.get).Methods("GET")
	v1.HandleFunc("/notes/{id}/lock", api.acquire).Methods("POST")
	v1.HandleFunc("/notes/{id}/lock", api.release).Methods("DELETE")
	v1.HandleFunc("/notes/{id}/lock/heartbeat", api.heartbeat).Methods("POST")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	return api, c
}

func (a *fakeAPI) addNote(n *domain.Note) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notes[n.ID] = n
}

func (a *fakeAPI) holder(id int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notes[id].InUse
}

func (a *fakeAPI) setHolder(id int64, holder string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notes[id].InUse = holder
}

func (a *fakeAPI) savedRequests() []domain.SaveNoteRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SaveNoteRequest(nil), a.saves...)
}

func (a *fakeAPI) heartbeatCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeats
}

func caller(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (a *fakeAPI) note(w http.ResponseWriter, r *http.Request) (*domain.Note, bool) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	n, ok := a.notes[id]
	if !ok {
		response.NotFound(w, "Note not found")
	}
	return n, ok
}

func (a *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.Password != "Secret1!" {
		response.Unauthorized(w, "Invalid credentials")
		return
	}
	response.Success(w, domain.LoginResponse{User: &domain.User{ID: 1, Name: req.Username}, Token: req.Username})
}

func (a *fakeAPI) users(w http.ResponseWriter, r *http.Request) {
	if caller(r) == "" {
		response.Unauthorized(w, "Missing or malformed authorization header")
		return
	}
	response.Success(w, []domain.User{{ID: 2, Name: "bob"}})
}

func (a *fakeAPI) get(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.note(w, r); ok {
		response.Success(w, n)
	}
}

func (a *fakeAPI) save(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveNoteRequest
	json.NewDecoder(r.Body).Decode(&req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves = append(a.saves, req)

	if req.ID == nil {
		n := &domain.Note{ID: int64(len(a.notes) + 100), Title: req.Title, Content: req.Content}
		a.notes[n.ID] = n
		response.Created(w, n)
		return
	}
	n, ok := a.notes[*req.ID]
	if !ok {
		response.NotFound(w, "Note not found")
		return
	}
	if n.InUse != "" && n.InUse != caller(r) {
		response.Conflict(w, "Note is in use by another user", domain.LockState{NoteID: n.ID, ReadOnly: true, Holder: n.InUse})
		return
	}
	n.Title, n.Content, n.SharedUserIDs = req.Title, req.Content, req.SharedUserIDs
	response.Success(w, n)
}

func (a *fakeAPI) lockState(n *domain.Note, user string) domain.LockState {
	if n.InUse == "" || n.InUse == user {
		n.InUse = user
		return domain.LockState{NoteID: n.ID, Held: true, Holder: user}
	}
	return domain.LockState{NoteID: n.ID, ReadOnly: true, Holder: n.InUse}
}

func (a *fakeAPI) acquire(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.note(w, r); ok {
		response.Success(w, a.lockState(n, caller(r)))
	}
}

func (a *fakeAPI) heartbeat(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeats++
	if n, ok := a.note(w, r); ok {
		response.Success(w, a.lockState(n, caller(r)))
	}
}

func (a *fakeAPI) release(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	n, ok := a.note(w, r)
	if !ok {
		return
	}
	if n.InUse == caller(r) {
		n.InUse = ""
	}
	response.Success(w, domain.LockState{NoteID: n.ID, Holder: n.InUse, ReadOnly: n.InUse != ""})
}
