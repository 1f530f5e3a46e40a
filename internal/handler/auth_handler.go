package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/pkg/response"
)

type AuthHandler struct {
	authService AuthService
	validator   *validator.Validate
	log         logging.Logger
}

func NewAuthHandler(authService AuthService, v *validator.Validate, log logging.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   v,
		log:         log,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}

	response.Created(w, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	loginResp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.log, err, 0)
		return
	}

	response.Success(w, loginResp)
}
