package handler

import (
	"context"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/service"
)

// The handlers depend on these views of the service layer.

type AuthService interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	ChangePassword(ctx context.Context, actor domain.Identity, req *domain.ChangePasswordRequest) error
	DeleteAccount(ctx context.Context, actor domain.Identity) error
	UsernameExists(ctx context.Context, name string) (bool, error)
}

type UserService interface {
	Me(ctx context.Context, actor domain.Identity) (*domain.User, error)
	ListOthers(ctx context.Context, actor domain.Identity) ([]*domain.User, error)
}

type NoteService interface {
	Save(ctx context.Context, actor domain.Identity, req *domain.SaveNoteRequest) (*domain.Note, error)
	Get(ctx context.Context, actor domain.Identity, noteID int64) (*domain.Note, error)
	List(ctx context.Context, actor domain.Identity) ([]*domain.Note, error)
	Delete(ctx context.Context, actor domain.Identity, noteID int64) (*service.DeleteResult, error)
	Versions(ctx context.Context, actor domain.Identity, noteID int64, limit int) ([]*domain.NoteVersion, error)
}

type LockService interface {
	Acquire(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error)
	Release(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error)
	Heartbeat(ctx context.Context, actor domain.Identity, noteID int64) (*domain.LockState, error)
	ReleaseAll(ctx context.Context, username string, noteIDs []int64) int
}

var (
	_ AuthService = (*service.AuthService)(nil)
	_ UserService = (*service.UserService)(nil)
	_ NoteService = (*service.NoteService)(nil)
	_ LockService = (*service.LockService)(nil)
)
