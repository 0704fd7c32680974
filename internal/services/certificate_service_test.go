package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
)

func TestActiveCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, material := env.createUser(t, "alice", "alice-pw-123")

	cert, err := env.certs.ActiveCertificate(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, material.SerialNumber, cert.SerialNumber)
	assert.Equal(t, models.CertActive, cert.Status)

	require.NoError(t, env.certs.Verify(ctx, cert.ID))

	_, err = env.certs.ActiveCertificate(ctx, 424242)
	assert.True(t, errors.Is(err, ErrNoActiveCertificate))
}

func TestRevokeCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.createUser(t, "alice", "alice-pw-123")
	bob, _ := env.createUser(t, "bob", "bob-pw-12345")

	cert, err := env.certs.ActiveCertificate(ctx, alice.ID)
	require.NoError(t, err)

	// A stranger cannot revoke someone else's certificate.
	require.Error(t, env.certs.Revoke(ctx, bob.ID, cert.ID, "nope"))

	require.NoError(t, env.certs.Revoke(ctx, alice.ID, cert.ID, "key compromised"))

	_, err = env.certs.ActiveCertificate(ctx, alice.ID)
	assert.True(t, errors.Is(err, ErrNoActiveCertificate))
	assert.True(t, errors.Is(env.certs.Verify(ctx, cert.ID), ErrCertificateRevoked))

	// Revoking twice is a conflict.
	assert.True(t, errors.Is(env.certs.Revoke(ctx, alice.ID, cert.ID, "again"), ErrCertificateRevoked))

	var entry models.CertificateRevocation
	require.NoError(t, env.db.Where("cert_id = ?", cert.ID).First(&entry).Error)
	assert.Equal(t, cert.SerialNumber, entry.SerialNumber)
	assert.Equal(t, "key compromised", entry.Reason)
}

func TestAdminMayRevokeAnyCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.createUser(t, "alice", "alice-pw-123")

	admin := &models.User{
		Username:     "root",
		Email:        "root@clarisign.test",
		PasswordHash: "not-checked-here",
		Role:         models.RoleAdmin,
		ActiveStatus: true,
	}
	require.NoError(t, env.db.Create(admin).Error)

	cert, err := env.certs.ActiveCertificate(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, env.certs.Revoke(ctx, admin.ID, cert.ID, "policy"))
}

func TestRevokedSignerCannotInitiate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.createUser(t, "alice", "alice-pw-123")

	result, err := env.encryption.UploadDocument(ctx, alice.ID, "a.pdf", "application/pdf", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, env.signing.SaveDraftBoxes(ctx, result.DocumentID, alice.ID, []BoxDraft{
		{UserID: alice.ID, Page: 1, RelX: 0.1, RelY: 0.1, RelWidth: 0.2, RelHeight: 0.1, Type: models.BoxTyped},
	}))
	boxes, err := env.signing.ListBoxes(ctx, result.DocumentID, alice.ID)
	require.NoError(t, err)

	cert, err := env.certs.ActiveCertificate(ctx, alice.ID)
	require.NoError(t, err)
	require.NoError(t, env.certs.Revoke(ctx, alice.ID, cert.ID, "lost key"))

	_, err = env.signing.Initiate(ctx, result.DocumentID, alice.ID, "10.0.0.1", []BoxSpec{
		{BoxID: "box-1", DBID: boxes[0].ID, Page: 1, Content: "A"},
	})
	assert.True(t, errors.Is(err, ErrNoActiveCertificate))
}
