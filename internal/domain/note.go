package domain

import (
	"slices"
	"time"
)

type Note struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"ownerID"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	ModifiedAt time.Time  `json:"modifiedAt"`
	InUse      string     `json:"inUse"`
	InUseUntil *time.Time `json:"inUseUntil,omitempty"`

	// Derived per viewer, never stored on the note row.
	IsShared      bool    `json:"isShared"`
	SharedUserIDs []int64 `json:"sharedUserIDs"`
}

// HolderAt returns the username holding the in-use lock at now, or "" when
// the note is free or the holder's lease has run out.
func (n *Note) HolderAt(now time.Time) string {
	if n.InUse == "" {
		return ""
	}
	if n.InUseUntil != nil && !now.Before(*n.InUseUntil) {
		return ""
	}
	return n.InUse
}

func (n *Note) IsOwner(userID int64) bool {
	return n.OwnerID == userID
}

func (n *Note) IsSharedWith(userID int64) bool {
	return slices.Contains(n.SharedUserIDs, userID)
}

// ViewFor returns the note as seen by userID: IsShared is set for non-owners
// and the share list is only disclosed to the owner.
func (n *Note) ViewFor(userID int64) *Note {
	view := *n
	if n.IsOwner(userID) {
		view.IsShared = false
		view.SharedUserIDs = slices.Clone(n.SharedUserIDs)
		if view.SharedUserIDs == nil {
			view.SharedUserIDs = []int64{}
		}
		return &view
	}
	view.IsShared = true
	view.SharedUserIDs = []int64{}
	return &view
}

// SaveNoteRequest is the combined commit sent by the editor: content, title,
// lock intent and, for owners, the desired share list. A nil ID creates a
// new note. A nil SharedUserIDs leaves the share relations untouched.
type SaveNoteRequest struct {
	ID            *int64  `json:"id" validate:"omitempty,gt=0"`
	Title         string  `json:"title" validate:"max=255"`
	Content       string  `json:"content"`
	InUse         bool    `json:"inUse"`
	SharedUserIDs []int64 `json:"sharedUserIDs" validate:"omitempty,dive,gt=0"`
}

// Normalize removes duplicates and ownerID from the share list so that only
// well formed relations reach the store.
func (r *SaveNoteRequest) Normalize(ownerID int64) {
	if r.SharedUserIDs == nil {
		return
	}
	ids := make([]int64, 0, len(r.SharedUserIDs))
	for _, id := range r.SharedUserIDs {
		if id == ownerID || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	r.SharedUserIDs = ids
}

type NoteVersion struct {
	NoteID  int64     `json:"noteID"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Editor  string    `json:"editor"`
	SavedAt time.Time `json:"savedAt"`
}
