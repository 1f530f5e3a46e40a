package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"webnotes-server/internal/logging"
	"webnotes-server/internal/middleware"
	"webnotes-server/pkg/response"
)

type RouterConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type Handlers struct {
	Auth      *AuthHandler
	User      *UserHandler
	Note      *NoteHandler
	WebSocket *WebSocketHandler
}

// NewRouter mounts the REST API under /api/v1. Everything except
// registration, login and the credential checks requires a bearer token.
func NewRouter(h Handlers, resolver middleware.IdentityResolver, cfg RouterConfig, log logging.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins, cfg.AllowedMethods, cfg.AllowedHeaders))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", h.Auth.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", h.Auth.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/users/exists/{name}", h.User.Exists).Methods("GET", "OPTIONS")
	api.HandleFunc("/users/validate", h.User.Validate).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(resolver, log))

	protected.HandleFunc("/users", h.User.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", h.User.GetMe).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", h.User.DeleteMe).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/users/me/password", h.User.ChangePassword).Methods("PUT", "OPTIONS")

	protected.HandleFunc("/notes", h.Note.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes", h.Note.Save).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}", h.Note.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}", h.Note.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}/lock", h.Note.Acquire).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}/lock", h.Note.Release).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}/lock/heartbeat", h.Note.Heartbeat).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes/{id:[0-9]+}/versions", h.Note.Versions).Methods("GET", "OPTIONS")

	wsAuth := middleware.AuthMiddleware(resolver, log)
	r.Handle("/ws", wsAuth(http.HandlerFunc(h.WebSocket.HandleConnection))).Methods("GET")

	r.HandleFunc("/health", healthHandler).Methods("GET")

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{"status": "ok"})
}
