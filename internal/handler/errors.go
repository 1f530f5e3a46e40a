package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"webnotes-server/internal/access"
	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/pkg/response"
)

// writeError maps service errors to HTTP responses. Denials are expected
// outcomes; anything unrecognised is logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error, noteID int64) {
	switch {
	case errors.Is(err, domain.ErrNotVisible), errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Note not found")
	case errors.Is(err, domain.ErrLockedByOther):
		state := &domain.LockState{NoteID: noteID, ReadOnly: true}
		var denied *access.Denied
		if errors.As(err, &denied) {
			state.Holder = denied.Holder
		}
		response.Conflict(w, "Note is in use by another user", state)
	case errors.Is(err, domain.ErrNotOwner):
		response.Forbidden(w, "Only the owner may do this")
	case errors.Is(err, domain.ErrInvalidCredential):
		response.Unauthorized(w, "Invalid credentials")
	case errors.Is(err, domain.ErrWrongPassword):
		response.BadRequest(w, "Old password does not match")
	case errors.Is(err, domain.ErrInvalidPassword):
		response.BadRequest(w, "Password does not satisfy the password policy")
	case errors.Is(err, domain.ErrInvalidUsername):
		response.BadRequest(w, "Username does not satisfy the username policy")
	case errors.Is(err, domain.ErrUnknownUser):
		response.BadRequest(w, "Cannot share with an unknown user")
	case errors.Is(err, domain.ErrAlreadyExists):
		response.Error(w, http.StatusConflict, "Username already taken")
	default:
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.InternalError(w, "Internal server error")
	}
}

func noteIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
