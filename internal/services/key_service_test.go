package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frfusch21/digital-signer-app/internal/keywrap"
)

func TestGenerateAndUnlockKeyMaterial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, material := env.createUser(t, "alice", "alice-pw-123")

	// The stored wrap must not contain the clear key.
	key, err := env.keys.GetUserKey(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotContains(t, key.EncryptedPrivateKey, "RSA PRIVATE KEY")
	assert.Len(t, key.KdfSalt, keywrap.SaltSize*2)

	// The certificate chains to the authority and carries the key pair's
	// public half.
	require.NoError(t, env.authority.Verify(material.CertificatePEM))
	pub, err := keywrap.PublicKeyFromCertificate(material.CertificatePEM)
	require.NoError(t, err)
	priv, err := keywrap.ParsePrivateKey(material.PrivateKeyPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&priv.PublicKey))

	unlocked, err := env.keys.UnlockPrivateKey(ctx, alice.ID, "alice-pw-123")
	require.NoError(t, err)
	assert.Equal(t, material.PrivateKeyPEM, unlocked)
}

func TestUnlockPrivateKeyWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, material := env.createUser(t, "alice", "alice-pw-123")

	unlocked, err := env.keys.UnlockPrivateKey(ctx, alice.ID, "not-the-password")
	if err == nil {
		// CBC padding can validate by accident; the result must still
		// not be the real key.
		assert.NotEqual(t, material.PrivateKeyPEM, unlocked)
		return
	}
	assert.True(t, errors.Is(err, ErrWrongPassword))
}

func TestGetUserKeyMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.keys.GetUserKey(context.Background(), 424242)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}
