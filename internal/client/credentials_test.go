package client

import (
	"testing"

	"github.com/nullpointer-dev/wasession-go/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCredentialStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileCredentialStore(dir)

	auth := &core.AuthInfo{
		ClientID:    "client-1",
		ClientToken: "ct",
		ServerToken: "st",
		EncKey:      []byte("0123456789abcdef0123456789abcdef"[:32]),
		MacKey:      []byte("fedcba9876543210fedcba9876543210"[:32]),
	}

	_, err := store.SaveToBase64("session-1", auth)
	require.NoError(t, err)
	assert.True(t, store.HasCredentials("session-1"))

	loaded, err := store.LoadFromBase64("session-1")
	require.NoError(t, err)
	assert.Equal(t, auth.ClientID, loaded.ClientID)
	assert.Equal(t, auth.ClientToken, loaded.ClientToken)
	assert.Equal(t, auth.ServerToken, loaded.ServerToken)
	assert.Equal(t, auth.EncKey, loaded.EncKey)
	assert.Equal(t, auth.MacKey, loaded.MacKey)
}

func TestFileCredentialStoreLoadMissingIsFresh(t *testing.T) {
	dir := t.TempDir()
	store := NewFileCredentialStore(dir)

	auth, err := store.LoadFromBase64("never-created")
	require.NoError(t, err)
	assert.False(t, auth.Restorable())
}

func TestFileCredentialStoreRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewFileCredentialStore(dir)

	_, err := store.SaveToBase64("session-2", &core.AuthInfo{ClientID: "c"})
	require.NoError(t, err)
	require.True(t, store.HasCredentials("session-2"))

	require.NoError(t, store.Remove("session-2"))
	assert.False(t, store.HasCredentials("session-2"))
}
