package domain

import "time"

// LockState is the outcome of a lock operation as seen by the caller.
type LockState struct {
	NoteID    int64      `json:"noteID"`
	Held      bool       `json:"held"`
	ReadOnly  bool       `json:"readOnly"`
	Holder    string     `json:"holder"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
