package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/middleware"
	"webnotes-server/internal/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
	log      logging.Logger
}

// NewWebSocketHandler expects to run behind AuthMiddleware. checkOrigin may
// be nil to accept any origin.
func NewWebSocketHandler(manager *websocket.Manager, checkOrigin func(r *http.Request) bool, log logging.Logger) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketHandler{
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "failed to upgrade connection", "user", identity.Username, "error", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), identity.ID, identity.Username, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler drives note locks from the editor's open, close
// and heartbeat messages.
type WebSocketMessageHandler struct {
	locks   LockService
	manager *websocket.Manager
	log     logging.Logger
}

func NewWebSocketMessageHandler(locks LockService, manager *websocket.Manager, log logging.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		locks:   locks,
		manager: manager,
		log:     log,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeNoteOpen:
		return h.handleLockMessage(ctx, client, msg, h.locks.Acquire)

	case websocket.TypeHeartbeat:
		return h.handleLockMessage(ctx, client, msg, h.locks.Heartbeat)

	case websocket.TypeNoteClose:
		return h.handleNoteClose(ctx, client, msg)

	case websocket.TypePing:
		return h.manager.Send(client, websocket.TypePong, nil)

	default:
		h.log.Debug(ctx, "unknown message type", "type", msg.Type, "client_id", client.ID)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleLockMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message, op lockFunc) error {
	var payload websocket.NoteRefPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	state, err := op(ctx, h.identity(client), payload.NoteID)
	if err != nil {
		return h.sendError(client, payload.NoteID, err)
	}

	client.MarkOpened(payload.NoteID)
	return h.manager.Send(client, websocket.TypeLockState, state)
}

func (h *WebSocketMessageHandler) handleNoteClose(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.NoteRefPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	client.MarkClosed(payload.NoteID)
	if h.manager.OpenedElsewhere(client, payload.NoteID) {
		return nil
	}

	state, err := h.locks.Release(ctx, h.identity(client), payload.NoteID)
	if err != nil {
		return h.sendError(client, payload.NoteID, err)
	}
	return h.manager.Send(client, websocket.TypeLockState, state)
}

// HandleDisconnect releases the locks of notes this connection had open,
// except those still open in another tab of the same user.
func (h *WebSocketMessageHandler) HandleDisconnect(ctx context.Context, client *websocket.Client) {
	var noteIDs []int64
	for _, id := range client.OpenedNotes() {
		if !h.manager.OpenedElsewhere(client, id) {
			noteIDs = append(noteIDs, id)
		}
	}
	if len(noteIDs) == 0 {
		return
	}

	released := h.locks.ReleaseAll(ctx, client.Username, noteIDs)
	h.log.Info(ctx, "released locks on disconnect", "user", client.Username, "client_id", client.ID, "released", released)
}

func (h *WebSocketMessageHandler) identity(client *websocket.Client) domain.Identity {
	return domain.Identity{ID: client.UserID, Username: client.Username}
}

func (h *WebSocketMessageHandler) sendError(client *websocket.Client, noteID int64, err error) error {
	message := "internal error"
	switch {
	case errors.Is(err, domain.ErrNotVisible), errors.Is(err, domain.ErrNotFound):
		message = "note not found"
	case errors.Is(err, domain.ErrLockedByOther):
		message = "note is in use by another user"
	default:
		h.log.Error(context.Background(), "websocket lock operation failed", "client_id", client.ID, "note_id", noteID, "error", err)
	}
	return h.manager.Send(client, websocket.TypeError, &websocket.ErrorPayload{NoteID: noteID, Error: message})
}
