package models

import (
	"time"

	"gorm.io/gorm"
)

type CertificateStatus string

const (
	CertActive  CertificateStatus = "active"
	CertRevoked CertificateStatus = "revoked"
	CertExpired CertificateStatus = "expired"
)

// Certificate binds a user's public key to their identity. Exactly one
// active certificate per user is the authority's current assertion.
type Certificate struct {
	gorm.Model
	OwnerID      uint              `gorm:"index;not null"`
	SerialNumber string            `gorm:"unique;not null"`
	Certificate  string            `gorm:"type:text;not null"` // PEM blob
	Issuer       string            `gorm:"not null"`
	Status       CertificateStatus `gorm:"not null;default:'active'"`

	Revocation *CertificateRevocation `gorm:"foreignKey:CertID"`
}

// CertificateRevocation is the CRL entry for a revoked certificate. The
// signing protocol does not consult this table before accepting a
// signature; revocation here is app-level bookkeeping.
type CertificateRevocation struct {
	gorm.Model
	CertID       uint   `gorm:"index;not null"`
	SerialNumber string `gorm:"not null"`
	Reason       string
	RevokedAt    time.Time `gorm:"not null"`
}
