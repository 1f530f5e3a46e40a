package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_ListOthersExcludesCaller(t *testing.T) {
	db, _ := newTxDB(t)
	store := newMemStore()
	svc := NewUserService(db, store)

	alice := store.addUser("alice")
	store.addUser("bob")
	store.addUser("carol")

	users, err := svc.ListOthers(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Name)
	assert.Equal(t, "carol", users[1].Name)
	for _, u := range users {
		assert.Empty(t, u.PasswordHash)
	}
}

func TestUserService_Me(t *testing.T) {
	db, _ := newTxDB(t)
	store := newMemStore()
	svc := NewUserService(db, store)
	alice := store.addUser("alice")

	me, err := svc.Me(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Name)
	assert.Empty(t, me.PasswordHash)
}
