package keywrap

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize*2)
	_, err = hex.DecodeString(salt)
	require.NoError(t, err)

	k1, err := DeriveKey("correct horse battery staple", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("correct horse battery staple", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, DEKSize)

	otherSalt, err := GenerateSalt()
	require.NoError(t, err)
	k3, err := DeriveKey("correct horse battery staple", otherSalt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := DeriveKey("wrong password", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestEncryptDecryptCBC(t *testing.T) {
	key, err := GenerateDEK()
	require.NoError(t, err)
	iv, err := GenerateIV()
	require.NoError(t, err)
	require.Len(t, key, DEKSize)
	require.Len(t, iv, IVSize)

	for _, plaintext := range [][]byte{
		[]byte("x"),
		[]byte("exactly sixteen!"),
		[]byte("a longer plaintext that spans several aes blocks for padding checks"),
	} {
		ct, err := EncryptCBC(plaintext, key, iv)
		require.NoError(t, err)
		assert.Zero(t, len(ct)%16)
		assert.NotEqual(t, plaintext, ct)

		back, err := DecryptCBC(ct, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, back)
	}
}

func TestDecryptCBCWrongKey(t *testing.T) {
	key, _ := GenerateDEK()
	iv, _ := GenerateIV()
	ct, err := EncryptCBC([]byte("sensitive payload"), key, iv)
	require.NoError(t, err)

	wrongKey, _ := GenerateDEK()
	back, err := DecryptCBC(ct, wrongKey, iv)
	if err == nil {
		// Padding can accidentally validate; the plaintext must still
		// be garbage.
		assert.NotEqual(t, []byte("sensitive payload"), back)
	}
}

func TestWrapUnwrapPrivateKey(t *testing.T) {
	privPEM, pubPEM, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.True(t, strings.Contains(privPEM, "RSA PRIVATE KEY"))
	assert.True(t, strings.Contains(pubPEM, "PUBLIC KEY"))

	salt, err := GenerateSalt()
	require.NoError(t, err)
	derived, err := DeriveKey("pa55word-pa55word", salt)
	require.NoError(t, err)

	wrapped, err := WrapPrivateKey(privPEM, derived)
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(wrapped)
	require.NoError(t, err)

	back, err := UnwrapPrivateKey(wrapped, derived)
	require.NoError(t, err)
	assert.Equal(t, privPEM, back)
}

func TestUnwrapPrivateKeyWrongPassword(t *testing.T) {
	privPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)

	salt, _ := GenerateSalt()
	derived, _ := DeriveKey("right password", salt)
	wrapped, err := WrapPrivateKey(privPEM, derived)
	require.NoError(t, err)

	wrongDerived, _ := DeriveKey("wrong password", salt)
	back, err := UnwrapPrivateKey(wrapped, wrongDerived)
	if err == nil {
		assert.NotEqual(t, privPEM, back)
	}
}

func TestWrapUnwrapDEK(t *testing.T) {
	privPEM, pubPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapDEKWithPublicKey(dek, pub)
	require.NoError(t, err)

	back, err := UnwrapDEK(wrapped, privPEM)
	require.NoError(t, err)
	assert.Equal(t, dek, back)
}

func TestUnwrapDEKWrongKey(t *testing.T) {
	_, pubPEM, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPrivPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)

	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)
	dek, _ := GenerateDEK()
	wrapped, err := WrapDEKWithPublicKey(dek, pub)
	require.NoError(t, err)

	_, err = UnwrapDEK(wrapped, otherPrivPEM)
	assert.Error(t, err)
}
