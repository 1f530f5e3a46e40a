package service

import (
	"time"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/websocket"
)

// Notifier fans note events out to connected users.
type Notifier interface {
	NotifyUsers(userIDs []int64, msgType websocket.MessageType, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) NotifyUsers([]int64, websocket.MessageType, interface{}) {}

// audience returns the users that can see note: the owner and every share.
func audience(note *domain.Note) []int64 {
	ids := make([]int64, 0, len(note.SharedUserIDs)+1)
	ids = append(ids, note.OwnerID)
	return append(ids, note.SharedUserIDs...)
}

func lockPayload(noteID int64, holder string, until *time.Time) websocket.NoteLockPayload {
	p := websocket.NoteLockPayload{NoteID: noteID, Holder: holder}
	if holder != "" {
		p.ExpiresAt = until
	}
	return p
}

// present returns note as seen by userID at now. An expired lease shows as
// free.
func present(note *domain.Note, userID int64, now time.Time) *domain.Note {
	view := note.ViewFor(userID)
	if view.HolderAt(now) == "" {
		view.InUse = ""
		view.InUseUntil = nil
	}
	return view
}
