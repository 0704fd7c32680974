package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/errs"
)

var (
	ErrNoAccess      = errs.Authorization("no access to this document")
	ErrAlreadyShared = errs.Conflict("user already has access to this document")
)

// AccessService is the per-document, per-user ledger of wrapped DEK
// grants. A user can read a document if and only if a grant row exists.
type AccessService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAccessService(db *gorm.DB, logger *zap.Logger) *AccessService {
	return &AccessService{
		db:     db,
		logger: logger.With(zap.String("service", "access_service")),
	}
}

// Grant inserts a grant row. Insert-only: an existing (document, user)
// pair is a conflict, never an update.
func (as *AccessService) Grant(ctx context.Context, documentID string, userID uint, wrappedDEK string) error {
	return as.grantTx(as.db.WithContext(ctx), documentID, userID, wrappedDEK)
}

func (as *AccessService) grantTx(tx *gorm.DB, documentID string, userID uint, wrappedDEK string) error {
	var count int64
	if err := tx.Model(&models.DocumentAccess{}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyShared
	}

	grant := &models.DocumentAccess{
		DocumentID:      documentID,
		UserID:          userID,
		EncryptedAESKey: wrappedDEK,
	}
	return tx.Create(grant).Error
}

// GrantFor returns the caller's grant on a document, or ErrNoAccess.
func (as *AccessService) GrantFor(ctx context.Context, documentID string, userID uint) (*models.DocumentAccess, error) {
	var grant models.DocumentAccess
	err := as.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoAccess
		}
		return nil, err
	}
	return &grant, nil
}

// Revoke deletes a grant row. The DEK is not rotated, so previously cached
// plaintext is not retroactively protected; revocation here is list
// removal, not re-keying.
func (as *AccessService) Revoke(ctx context.Context, documentID string, userID uint) error {
	result := as.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&models.DocumentAccess{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("no grant for this user on this document")
	}

	as.logger.Info("Access revoked",
		zap.String("document_id", documentID),
		zap.Uint("user_id", userID))
	return nil
}

// ListCollaborators returns the grants on a document excluding the owner;
// the owner's grant is a full first-class row internally, it just is not
// rendered in collaborator lists.
func (as *AccessService) ListCollaborators(ctx context.Context, documentID string, ownerID uint) ([]models.DocumentAccess, error) {
	var grants []models.DocumentAccess
	if err := as.db.WithContext(ctx).
		Preload("User").
		Where("document_id = ? AND user_id <> ?", documentID, ownerID).
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

// ListDocumentsFor returns the IDs of documents a user holds grants on.
func (as *AccessService) ListDocumentsFor(ctx context.Context, userID uint) ([]string, error) {
	var ids []string
	if err := as.db.WithContext(ctx).
		Model(&models.DocumentAccess{}).
		Where("user_id = ?", userID).
		Pluck("document_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
