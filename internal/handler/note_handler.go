package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/middleware"
	"webnotes-server/pkg/response"
)

type NoteHandler struct {
	notes     NoteService
	locks     LockService
	validator *validator.Validate
	log       logging.Logger
}

func NewNoteHandler(notes NoteService, locks LockService, v *validator.Validate, log logging.Logger) *NoteHandler {
	return &NoteHandler{
		notes:     notes,
		locks:     locks,
		validator: v,
		log:       log,
	}
}

// Save creates the note when the body has no id and updates it otherwise.
func (h *NoteHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	note, err := h.notes.Save(r.Context(), *middleware.GetIdentity(r), &req)
	if err != nil {
		var id int64
		if req.ID != nil {
			id = *req.ID
		}
		writeError(w, r, h.log, err, id)
		return
	}

	if req.ID == nil {
		response.Created(w, note)
		return
	}
	response.Success(w, note)
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.List(r.Context(), *middleware.GetIdentity(r))
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Success(w, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(r)
	if !ok {
		response.BadRequest(w, "Invalid note ID")
		return
	}

	note, err := h.notes.Get(r.Context(), *middleware.GetIdentity(r), noteID)
	if err != nil {
		writeError(w, r, h.log, err, noteID)
		return
	}
	response.Success(w, note)
}

// Delete removes the note for its owner and unshares it for anyone else.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(r)
	if !ok {
		response.BadRequest(w, "Invalid note ID")
		return
	}

	result, err := h.notes.Delete(r.Context(), *middleware.GetIdentity(r), noteID)
	if err != nil {
		writeError(w, r, h.log, err, noteID)
		return
	}
	response.Success(w, result)
}

func (h *NoteHandler) Versions(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(r)
	if !ok {
		response.BadRequest(w, "Invalid note ID")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(w, "Invalid limit")
			return
		}
		limit = n
	}

	versions, err := h.notes.Versions(r.Context(), *middleware.GetIdentity(r), noteID, limit)
	if err != nil {
		writeError(w, r, h.log, err, noteID)
		return
	}
	response.Success(w, versions)
}

// Acquire answers 200 with the lock state whether or not the lock was
// granted; a refusal is a read-only state, not an error.
func (h *NoteHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	h.lockOp(w, r, h.locks.Acquire)
}

func (h *NoteHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.lockOp(w, r, h.locks.Release)
}

func (h *NoteHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.lockOp(w, r, h.locks.Heartbeat)
}

type lockFunc func(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error)

func (h *NoteHandler) lockOp(w http.ResponseWriter, r *http.Request, op lockFunc) {
	noteID, ok := noteIDParam(r)
	if !ok {
		response.BadRequest(w, "Invalid note ID")
		return
	}

	state, err := op(r.Context(), *middleware.GetIdentity(r), noteID)
	if err != nil {
		writeError(w, r, h.log, err, noteID)
		return
	}
	response.Success(w, state)
}
