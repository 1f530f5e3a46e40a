package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/middleware"
	"webnotes-server/pkg/policy"
	"webnotes-server/pkg/response"
)

type UserHandler struct {
	userService UserService
	authService AuthService
	validator   *validator.Validate
	log         logging.Logger
}

func NewUserHandler(userService UserService, authService AuthService, v *validator.Validate, log logging.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		authService: authService,
		validator:   v,
		log:         log,
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.Me(r.Context(), *middleware.GetIdentity(r))
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Success(w, user)
}

// List feeds the share picker: every user except the caller.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListOthers(r.Context(), *middleware.GetIdentity(r))
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Success(w, users)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.authService.ChangePassword(r.Context(), *middleware.GetIdentity(r), &req); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Message(w, http.StatusOK, "Password changed")
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.DeleteAccount(r.Context(), *middleware.GetIdentity(r)); err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Message(w, http.StatusOK, "Account deleted")
}

func (h *UserHandler) Exists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.authService.UsernameExists(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}
	response.Success(w, map[string]bool{"exists": exists})
}

// Validate runs the username and password policies for form feedback.
func (h *UserHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req domain.CredentialCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	response.Success(w, domain.CredentialCheckResponse{
		UsernameValid: policy.IsValidUsername(req.Username),
		PasswordValid: policy.IsValidPassword(req.Password),
	})
}
