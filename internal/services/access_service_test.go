package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantIsInsertOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.createUser(t, "alice", "alice-pw-123")
	bob, _ := env.createUser(t, "bob", "bob-pw-12345")

	result, err := env.encryption.UploadDocument(ctx, alice.ID, "a.pdf", "application/pdf", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, env.access.Grant(ctx, result.DocumentID, bob.ID, "wrapped-dek-b64"))

	// A second grant for the same pair is a conflict, the stored wrap
	// is never overwritten.
	err = env.access.Grant(ctx, result.DocumentID, bob.ID, "different-wrap")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyShared))

	grant, err := env.access.GrantFor(ctx, result.DocumentID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "wrapped-dek-b64", grant.EncryptedAESKey)
}

func TestRevokeRemovesGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceKeys := env.createUser(t, "alice", "alice-pw-123")
	bob, bobKeys := env.createUser(t, "bob", "bob-pw-12345")

	result, err := env.encryption.UploadDocument(ctx, alice.ID, "a.pdf", "application/pdf", []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, env.encryption.AddCollaborator(ctx, result.DocumentID, alice.ID, aliceKeys.PrivateKeyPEM, bob.ID))

	require.NoError(t, env.access.Revoke(ctx, result.DocumentID, bob.ID))

	_, err = env.encryption.ReadDocument(ctx, result.DocumentID, bob.ID, bobKeys.PrivateKeyPEM)
	assert.True(t, errors.Is(err, ErrNoAccess))

	// Revoking an absent grant reports not found.
	require.Error(t, env.access.Revoke(ctx, result.DocumentID, bob.ID))

	// The owner's own grant is untouched.
	back, err := env.encryption.ReadDocument(ctx, result.DocumentID, alice.ID, aliceKeys.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), back)
}

func TestListCollaboratorsExcludesOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceKeys := env.createUser(t, "alice", "alice-pw-123")
	bob, _ := env.createUser(t, "bob", "bob-pw-12345")
	carol, _ := env.createUser(t, "carol", "carol-pw-123")

	result, err := env.encryption.UploadDocument(ctx, alice.ID, "a.pdf", "application/pdf", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, env.encryption.AddCollaborator(ctx, result.DocumentID, alice.ID, aliceKeys.PrivateKeyPEM, bob.ID))
	require.NoError(t, env.encryption.AddCollaborator(ctx, result.DocumentID, alice.ID, aliceKeys.PrivateKeyPEM, carol.ID))

	grants, err := env.access.ListCollaborators(ctx, result.DocumentID, alice.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	names := []string{grants[0].User.Username, grants[1].User.Username}
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}

func TestListDocumentsFor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.createUser(t, "alice", "alice-pw-123")

	result, err := env.encryption.UploadDocument(ctx, alice.ID, "a.pdf", "application/pdf", []byte("a"))
	require.NoError(t, err)

	// Upload grants on both the original and the duplicate row.
	ids, err := env.access.ListDocumentsFor(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{result.DocumentID, result.OriginalDocumentID}, ids)
}
