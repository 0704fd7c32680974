// Package keywrap holds the symmetric and asymmetric key plumbing: PBKDF2
// derivation of password keys, AES-256-CBC wrapping of private keys, and
// RSA wrapping of per-document data-encryption keys.
package keywrap

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"github.com/frfusch21/digital-signer-app/internal/errs"
)

const (
	DEKSize  = 32
	IVSize   = 16
	SaltSize = 16

	KDFIterations = 10000
	KDFKeyLength  = 32

	KeyBits = 2048
)

// GenerateKeyPair returns a fresh RSA key pair as PKCS#1/PKIX PEM blocks.
func GenerateKeyPair() (privatePEM, publicPEM string, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return "", "", errs.Crypto("failed to generate key pair", err)
	}

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}))

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", errs.Crypto("failed to export public key", err)
	}
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))

	return privatePEM, publicPEM, nil
}

// GenerateSalt returns 16 random bytes as a hex string, stored alongside
// the wrapped private key so login can re-derive the identical key.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", errs.Crypto("failed to generate salt", err)
	}
	return hex.EncodeToString(salt), nil
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over the password and the decoded salt.
// The same (password, salt) pair always reproduces the same key.
func DeriveKey(password, saltHex string) ([]byte, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, errs.Integrity("kdf salt is not valid hex")
	}
	return pbkdf2.Key([]byte(password), salt, KDFIterations, KDFKeyLength, sha256.New), nil
}

func GenerateDEK() ([]byte, error) {
	dek := make([]byte, DEKSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, errs.Crypto("failed to generate DEK", err)
	}
	return dek, nil
}

func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errs.Crypto("failed to generate IV", err)
	}
	return iv, nil
}

// EncryptCBC encrypts plaintext with AES-256-CBC and PKCS#7 padding.
func EncryptCBC(plaintext, key, iv []byte) ([]byte, error) {
	if len(key) != DEKSize {
		return nil, errs.Integrity("encryption key must be 32 bytes")
	}
	if len(iv) != IVSize {
		return nil, errs.Integrity("IV must be 16 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Crypto("failed to initialize cipher", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// DecryptCBC reverses EncryptCBC. Bad padding or a truncated ciphertext is
// a hard crypto error; partial plaintext is never returned.
func DecryptCBC(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != DEKSize {
		return nil, errs.Integrity("decryption key must be 32 bytes")
	}
	if len(iv) != IVSize {
		return nil, errs.Integrity("IV must be 16 bytes")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errs.Integrity("ciphertext is not a whole number of blocks")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Crypto("failed to initialize cipher", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, errs.Crypto("failed to decrypt: bad padding", err)
	}
	return unpadded, nil
}

// WrapPrivateKey encrypts a private key PEM under the derived key and
// returns base64(IV || ciphertext).
func WrapPrivateKey(privatePEM string, derivedKey []byte) (string, error) {
	iv, err := GenerateIV()
	if err != nil {
		return "", err
	}
	ciphertext, err := EncryptCBC([]byte(privatePEM), derivedKey, iv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// UnwrapPrivateKey reverses WrapPrivateKey: the first 16 decoded bytes are
// the IV, the remainder the ciphertext.
func UnwrapPrivateKey(wrapped string, derivedKey []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", errs.Integrity("wrapped private key is not valid base64")
	}
	if len(data) <= IVSize {
		return "", errs.Integrity("wrapped private key is too short")
	}
	plaintext, err := DecryptCBC(data[IVSize:], derivedKey, data[:IVSize])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// WrapDEK encrypts the raw DEK under the certificate's RSA public key.
func WrapDEK(dek []byte, certPEM string) (string, error) {
	if len(dek) != DEKSize {
		return "", errs.Integrity("DEK must be 32 bytes")
	}
	pub, err := PublicKeyFromCertificate(certPEM)
	if err != nil {
		return "", err
	}
	return WrapDEKWithPublicKey(dek, pub)
}

func WrapDEKWithPublicKey(dek []byte, pub *rsa.PublicKey) (string, error) {
	if len(dek) != DEKSize {
		return "", errs.Integrity("DEK must be 32 bytes")
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, dek)
	if err != nil {
		return "", errs.Crypto("failed to encrypt DEK", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// UnwrapDEK decrypts a wrapped DEK with the holder's private key. A key
// mismatch fails the RSA decrypt; the caller must treat that as fatal
// rather than proceed with garbage key material.
func UnwrapDEK(wrapped string, privatePEM string) ([]byte, error) {
	encrypted, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, errs.Integrity("wrapped DEK is not valid base64")
	}
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	dek, err := rsa.DecryptPKCS1v15(rand.Reader, priv, encrypted)
	if err != nil {
		return nil, errs.Crypto("failed to decrypt DEK", err)
	}
	if len(dek) != DEKSize {
		return nil, errs.Integrity("unwrapped DEK is not 32 bytes")
	}
	return dek, nil
}

// ParsePrivateKey accepts PKCS#1 and PKCS#8 PEM private keys.
func ParsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errs.Integrity("private key is not valid PEM")
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse private key", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errs.Integrity("private key is not RSA")
	}
	return priv, nil
}

// PublicKeyFromCertificate extracts the RSA public key from an X.509
// certificate PEM.
func PublicKeyFromCertificate(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errs.Integrity("certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse certificate", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Integrity("certificate does not carry an RSA key")
	}
	return pub, nil
}

// ParsePublicKey accepts PKIX and PKCS#1 PEM public keys.
func ParsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errs.Integrity("public key is not valid PEM")
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse public key", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Integrity("public key is not RSA")
	}
	return pub, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
