package models

import (
	"gorm.io/gorm"
)

// UserKey is the one-per-user record of wrapped private key material. The
// private key is stored AES-256-CBC encrypted under a key derived from the
// user's password and KdfSalt; it is never persisted in clear.
type UserKey struct {
	gorm.Model
	UserID              uint   `gorm:"uniqueIndex;not null"`
	EncryptedPrivateKey string `gorm:"type:text;not null"` // base64(IV || ciphertext)
	KdfSalt             string `gorm:"not null"`           // 16 random bytes, hex-encoded
}
