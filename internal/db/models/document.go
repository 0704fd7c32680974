package models

import (
	"time"

	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPending   DocumentStatus = "pending"
	StatusFinalized DocumentStatus = "finalized"
	StatusRevoked   DocumentStatus = "revoked"
)

type VersionType string

const (
	VersionOriginal  VersionType = "original"
	VersionDuplicate VersionType = "duplicate"
	VersionSigned    VersionType = "signed"
)

// Document holds one encrypted document body. Uploads create a paired
// original+duplicate sharing the same envelope, IV and DEK; the duplicate
// is the row users interact with, the original stays out of listings.
type Document struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	UserID            uint   `gorm:"index;not null"`
	FileName          string `gorm:"not null"`
	FileType          string
	FileSize          int64
	EncryptedFileData string         `gorm:"type:text;not null"` // envelope, see internal/envelope
	IV                string         `gorm:"not null"`           // base64 of exactly 16 raw bytes
	VersionType       VersionType    `gorm:"not null;default:'original'"`
	Status            DocumentStatus `gorm:"not null;default:'draft'"`
	ParentDocumentID  *string        `gorm:"index"`

	AccessList []DocumentAccess
}
