package models

import (
	"time"

	"gorm.io/gorm"
)

type NonceStatus string

const (
	NoncePending NonceStatus = "pending"
	NonceUsed    NonceStatus = "used"
	NonceExpired NonceStatus = "expired"
	NonceRevoked NonceStatus = "revoked"
)

// SignatureNonce is the single-use token binding one signer to one
// document snapshot. Hash is sha256(documentID || nonce || boxes JSON);
// the client signs the hash, not the nonce. A nonce transitions
// pending -> used exactly once and only before ExpiresAt.
type SignatureNonce struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	Nonce      string `gorm:"index;not null"`
	UserID     uint   `gorm:"index;not null"`
	DocumentID string `gorm:"index;not null"`
	Hash       string `gorm:"not null"`
	Boxes      string `gorm:"type:text;not null"` // box JSON exactly as hashed
	ExpiresAt  time.Time `gorm:"not null"`
	Used       bool      `gorm:"not null;default:false"`
	SignedAt   *time.Time
	Status     NonceStatus `gorm:"not null;default:'pending'"`
	IPAddress  string
}
