package service

import (
	"context"
	"database/sql"
	"fmt"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/repository"
)

type UserService struct {
	db    *sql.DB
	repos repository.Manager
}

func NewUserService(db *sql.DB, repos repository.Manager) *UserService {
	return &UserService{
		db:    db,
		repos: repos,
	}
}

func (s *UserService) Me(ctx context.Context, actor domain.Identity) (*domain.User, error) {
	user, err := s.repos.Users(s.db).FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.PasswordHash = ""
	return user, nil
}

// ListOthers returns every user except actor, for the share picker.
func (s *UserService) ListOthers(ctx context.Context, actor domain.Identity) ([]*domain.User, error) {
	users, err := s.repos.Users(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	others := make([]*domain.User, 0, len(users))
	for _, u := range users {
		if u.ID == actor.ID {
			continue
		}
		u.PasswordHash = ""
		others = append(others, u)
	}
	return others, nil
}
