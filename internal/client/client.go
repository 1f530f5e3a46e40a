// Package client is a Go client for the WebNotes HTTP API and an editing
// session built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webnotes-server/internal/domain"
	"webnotes-server/internal/service"
)

// APIError is a non-2xx answer from the server. It unwraps to the matching
// domain error where there is one.
type APIError struct {
	StatusCode int
	Message    string
	Lock       *domain.LockState
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotVisible
	case http.StatusUnauthorized:
		return domain.ErrInvalidCredential
	case http.StatusForbidden:
		return domain.ErrNotOwner
	case http.StatusConflict:
		if e.Lock != nil {
			return domain.ErrLockedByOther
		}
		return domain.ErrAlreadyExists
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.ErrStoreUnavailable
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response (%s): %w", resp.Status, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Error}
		if resp.StatusCode == http.StatusConflict && len(env.Data) > 0 {
			var state domain.LockState
			if json.Unmarshal(env.Data, &state) == nil && state.ReadOnly {
				apiErr.Lock = &state
			}
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) Register(ctx context.Context, username, password string) (*domain.User, error) {
	var user domain.User
	err := c.do(ctx, http.MethodPost, "/auth/register", domain.RegisterRequest{Username: username, Password: password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", domain.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Users lists everyone except the caller.
func (c *Client) Users(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/users/me/password", domain.ChangePasswordRequest{
		OldPassword: oldPassword,
		NewPassword: newPassword,
	}, nil)
}

func (c *Client) SaveNote(ctx context.Context, req *domain.SaveNoteRequest) (*domain.Note, error) {
	var note domain.Note
	if err := c.do(ctx, http.MethodPost, "/notes", req, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) GetNote(ctx context.Context, noteID int64) (*domain.Note, error) {
	var note domain.Note
	if err := c.do(ctx, http.MethodGet, notePath(noteID, ""), nil, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) ListNotes(ctx context.Context) ([]*domain.Note, error) {
	var notes []*domain.Note
	if err := c.do(ctx, http.MethodGet, "/notes", nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) DeleteNote(ctx context.Context, noteID int64) (*service.DeleteResult, error) {
	var result service.DeleteResult
	if err := c.do(ctx, http.MethodDelete, notePath(noteID, ""), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Versions(ctx context.Context, noteID int64, limit int) ([]*domain.NoteVersion, error) {
	path := notePath(noteID, "/versions")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var versions []*domain.NoteVersion
	if err := c.do(ctx, http.MethodGet, path, nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *Client) AcquireLock(ctx context.Context, noteID int64) (*domain.LockState, error) {
	return c.lock(ctx, http.MethodPost, notePath(noteID, "/lock"))
}

func (c *Client) ReleaseLock(ctx context.Context, noteID int64) (*domain.LockState, error) {
	return c.lock(ctx, http.MethodDelete, notePath(noteID, "/lock"))
}

func (c *Client) Heartbeat(ctx context.Context, noteID int64) (*domain.LockState, error) {
	return c.lock(ctx, http.MethodPost, notePath(noteID, "/lock/heartbeat"))
}

func (c *Client) lock(ctx context.Context, method, path string) (*domain.LockState, error) {
	var state domain.LockState
	if err := c.do(ctx, method, path, nil, &state); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Lock != nil {
			return apiErr.Lock, nil
		}
		return nil, err
	}
	return &state, nil
}

func notePath(noteID int64, suffix string) string {
	return "/notes/" + strconv.FormatInt(noteID, 10) + suffix
}
