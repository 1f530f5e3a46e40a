package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidUsername   = errors.New("username does not satisfy policy")
	ErrInvalidPassword   = errors.New("password does not satisfy policy")
	ErrWrongPassword     = errors.New("old password does not match")

	// Access denials.
	ErrNotVisible    = errors.New("note not visible")
	ErrLockedByOther = errors.New("note locked by other user")
	ErrNotOwner      = errors.New("not the note owner")

	ErrUnknownUser = errors.New("unknown user")

	ErrStoreUnavailable = errors.New("store unavailable")
)
