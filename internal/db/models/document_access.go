package models

import (
	"gorm.io/gorm"
)

// DocumentAccess is one grant row per (document, user): the document's DEK
// encrypted under that user's certificate public key. All rows for a
// document unwrap to the same raw DEK.
type DocumentAccess struct {
	gorm.Model
	DocumentID      string `gorm:"uniqueIndex:idx_doc_user;not null"`
	UserID          uint   `gorm:"uniqueIndex:idx_doc_user;not null"`
	EncryptedAESKey string `gorm:"type:text;not null"` // base64 RSA-wrapped DEK

	User User
}
