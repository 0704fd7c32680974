package models

import (
	"gorm.io/gorm"
)

type SignatureBoxType string

const (
	BoxTyped SignatureBoxType = "typed"
	BoxDrawn SignatureBoxType = "drawn"
)

type SignatureBoxStatus string

const (
	BoxPending  SignatureBoxStatus = "pending"
	BoxActive   SignatureBoxStatus = "active"
	BoxRevoked  SignatureBoxStatus = "revoked"
	BoxRejected SignatureBoxStatus = "rejected"
)

// SignatureBox is a placement on a document page assigned to one signer.
// Coordinates are relative to the page so rendering is zoom independent.
// Content stays empty while the box is pending; a completed signing
// transaction sets content and status together.
type SignatureBox struct {
	gorm.Model
	DocumentID string  `gorm:"index;not null"`
	UserID     uint    `gorm:"index;not null"`
	Page       int     `gorm:"not null"` // 1-based
	RelX       float64 `gorm:"not null"`
	RelY       float64 `gorm:"not null"`
	RelWidth   float64 `gorm:"not null"`
	RelHeight  float64 `gorm:"not null"`
	Type       SignatureBoxType   `gorm:"not null"`
	Status     SignatureBoxStatus `gorm:"not null;default:'pending'"`
	Content    string             `gorm:"type:text"`
}
