package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"webnotes-server/internal/dbx"
	"webnotes-server/internal/domain"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/repository"
	"webnotes-server/pkg/hash"
	"webnotes-server/pkg/jwt"
	"webnotes-server/pkg/policy"
)

// AuthService resolves credentials to identities and manages accounts.
type AuthService struct {
	db            *sql.DB
	repos         repository.Manager
	hasher        *hash.Hasher
	jwtSecret     string
	jwtExpiration time.Duration
	log           logging.Logger
}

func NewAuthService(db *sql.DB, repos repository.Manager, hasher *hash.Hasher, jwtSecret string, jwtExp time.Duration, log logging.Logger) *AuthService {
	return &AuthService{
		db:            db,
		repos:         repos,
		hasher:        hasher,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExp,
		log:           log.With("component", "auth"),
	}
}

// Resolve verifies token and confirms its user still exists. Every failure
// except a store outage is reported as domain.ErrInvalidCredential.
func (s *AuthService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}

	user, err := s.repos.Users(s.db).FindByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %q no longer exists", domain.ErrInvalidCredential, claims.Username)
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	return &domain.Identity{ID: user.ID, Username: user.Name}, nil
}

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	if !policy.IsValidUsername(req.Username) {
		return nil, domain.ErrInvalidUsername
	}
	if !policy.IsValidPassword(req.Password) {
		return nil, domain.ErrInvalidPassword
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.repos.Users(s.db).Create(ctx, req.Username, hashed)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info(ctx, "user registered", "user", user.Name)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	user, err := s.repos.Users(s.db).FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !s.hasher.Matches(user.PasswordHash, req.Password) {
		return nil, domain.ErrInvalidCredential
	}

	token, err := jwt.GenerateToken(user.Name, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	user.PasswordHash = ""
	return &domain.LoginResponse{
		User:      user,
		Token:     token,
		ExpiresIn: int64(s.jwtExpiration.Seconds()),
	}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, actor domain.Identity, req *domain.ChangePasswordRequest) error {
	users := s.repos.Users(s.db)

	user, err := users.FindByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredential
		}
		return fmt.Errorf("failed to find user: %w", err)
	}

	if !s.hasher.Matches(user.PasswordHash, req.OldPassword) {
		return domain.ErrWrongPassword
	}
	if !policy.IsValidPassword(req.NewPassword) {
		return domain.ErrInvalidPassword
	}

	hashed, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := users.UpdatePassword(ctx, actor.ID, hashed); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.log.Info(ctx, "password changed", "user", actor.Username)
	return nil
}

// DeleteAccount frees every note the user holds and removes the user. Owned
// notes and share relations go with the user row.
func (s *AuthService) DeleteAccount(ctx context.Context, actor domain.Identity) error {
	var released int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		released, err = s.repos.Notes(tx).ClearInUseByHolder(ctx, actor.Username)
		if err != nil {
			return fmt.Errorf("failed to release locks: %w", err)
		}
		if err := s.repos.Users(tx).Delete(ctx, actor.ID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "account deleted", "user", actor.Username, "released_locks", released)
	return nil
}

func (s *AuthService) UsernameExists(ctx context.Context, name string) (bool, error) {
	_, err := s.repos.Users(s.db).FindByUsername(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check username: %w", err)
}
