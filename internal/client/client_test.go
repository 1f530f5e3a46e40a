package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webnotes-server/internal/domain"
)

func TestClientLoginKeepsToken(t *testing.T) {
	_, c := newFakeAPI(t)
	ctx := context.Background()

	_, err := c.Users(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	_, err = c.Login(ctx, "alice", "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, "Invalid credentials", apiErr.Message)

	resp, err := c.Login(ctx, "alice", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Token)

	users, err := c.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Name)
}

func TestClientSaveAndGet(t *testing.T) {
	api, c := newFakeAPI(t)
	c.SetToken("alice")
	ctx := context.Background()

	created, err := c.SaveNote(ctx, &domain.SaveNoteRequest{Title: "t", Content: "c"})
	require.NoError(t, err)

	got, err := c.GetNote(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Content)

	_, err = c.GetNote(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotVisible)

	api.setHolder(created.ID, "bob")
	id := created.ID
	_, err = c.SaveNote(ctx, &domain.SaveNoteRequest{ID: &id, Content: "mine"})
	assert.ErrorIs(t, err, domain.ErrLockedByOther)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bob", apiErr.Lock.Holder)
}

func TestClientLockCalls(t *testing.T) {
	api, c := newFakeAPI(t)
	api.addNote(&domain.Note{ID: 1, InUse: "bob"})
	api.addNote(&domain.Note{ID: 2})
	c.SetToken("alice")
	ctx := context.Background()

	state, err := c.AcquireLock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, state.ReadOnly)
	assert.Equal(t, "bob", state.Holder)

	state, err = c.AcquireLock(ctx, 2)
	require.NoError(t, err)
	assert.True(t, state.Held)

	state, err = c.Heartbeat(ctx, 2)
	require.NoError(t, err)
	assert.True(t, state.Held)

	_, err = c.ReleaseLock(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, api.holder(2))
}
