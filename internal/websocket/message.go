package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	// Sent by clients.
	TypeNoteOpen  MessageType = "note_open"
	TypeNoteClose MessageType = "note_close"
	TypeHeartbeat MessageType = "heartbeat"
	TypePing      MessageType = "ping"

	// Sent by the server.
	TypeLockState  MessageType = "lock_state"
	TypeNoteUpdate MessageType = "note_update"
	TypeNoteLock   MessageType = "note_lock"
	TypeNoteDelete MessageType = "note_delete"
	TypeError      MessageType = "error"
	TypePong       MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type NoteRefPayload struct {
	NoteID int64 `json:"noteID"`
}

type NoteUpdatePayload struct {
	NoteID     int64     `json:"noteID"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ModifiedAt time.Time `json:"modifiedAt"`
	InUse      string    `json:"inUse"`
	Editor     string    `json:"editor"`
}

type NoteLockPayload struct {
	NoteID    int64      `json:"noteID"`
	Holder    string     `json:"holder"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NoteDeletePayload tells a user the note left their visible set, either
// because the owner deleted it or because they were unshared.
type NoteDeletePayload struct {
	NoteID int64  `json:"noteID"`
	By     string `json:"by"`
}

type ErrorPayload struct {
	NoteID int64  `json:"noteID,omitempty"`
	Error  string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
