package services

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/envelope"
	"github.com/frfusch21/digital-signer-app/internal/errs"
	"github.com/frfusch21/digital-signer-app/internal/keywrap"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

var (
	ErrDocumentNotFound = errs.NotFound("document not found")
	ErrDecryptionFailed = errs.New(errs.KindCrypto, "failed to decrypt document")
)

// EncryptionService orchestrates per-document envelope encryption: DEK and
// IV generation at upload, per-recipient DEK wrapping, and re-encryption
// after mutation. A document's DEK and IV are never rotated once it
// exists, so every outstanding grant stays valid across re-encryptions.
type EncryptionService struct {
	db      *gorm.DB
	access  *AccessService
	certs   *CertificateService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

// UploadResult reports the rows an upload created. The duplicate is the
// document users interact with; the original stays out of listings.
type UploadResult struct {
	DocumentID         string
	OriginalDocumentID string
}

func NewEncryptionService(db *gorm.DB, access *AccessService, certs *CertificateService, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *EncryptionService {
	return &EncryptionService{
		db:      db,
		access:  access,
		certs:   certs,
		logger:  logger.With(zap.String("service", "encryption_service")),
		metrics: metricsCollector,
	}
}

// UploadDocument encrypts raw file bytes under a fresh DEK/IV, wraps the
// DEK for the owner's certificate, and persists the paired
// original+duplicate rows plus the owner's grant in one transaction.
func (es *EncryptionService) UploadDocument(ctx context.Context, ownerID uint, fileName, fileType string, raw []byte) (*UploadResult, error) {
	start := time.Now()

	cert, err := es.certs.ActiveCertificate(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	dek, err := keywrap.GenerateDEK()
	if err != nil {
		return nil, err
	}
	iv, err := keywrap.GenerateIV()
	if err != nil {
		return nil, err
	}

	// The envelope plaintext is base64 of the file bytes, matching the
	// persisted format any compatible reader expects.
	encoded := base64.StdEncoding.EncodeToString(raw)
	ciphertext, err := keywrap.EncryptCBC([]byte(encoded), dek, iv)
	if err != nil {
		es.logger.Error("document encryption failed", zap.Error(err))
		return nil, err
	}

	env, err := envelope.Encode(ciphertext)
	if err != nil {
		return nil, err
	}

	wrappedDEK, err := keywrap.WrapDEK(dek, cert.Certificate)
	if err != nil {
		es.logger.Error("DEK wrap failed", zap.Uint("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	original := &models.Document{
		ID:                uuid.New().String(),
		UserID:            ownerID,
		FileName:          fileName,
		FileType:          fileType,
		FileSize:          int64(len(raw)),
		EncryptedFileData: env,
		IV:                base64.StdEncoding.EncodeToString(iv),
		VersionType:       models.VersionOriginal,
		Status:            models.StatusDraft,
	}
	duplicate := &models.Document{
		ID:                uuid.New().String(),
		UserID:            ownerID,
		FileName:          fileName,
		FileType:          fileType,
		FileSize:          int64(len(raw)),
		EncryptedFileData: env,
		IV:                original.IV,
		VersionType:       models.VersionDuplicate,
		Status:            models.StatusDraft,
		ParentDocumentID:  &original.ID,
	}

	err = es.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(original).Error; err != nil {
			return err
		}
		if err := tx.Create(duplicate).Error; err != nil {
			return err
		}
		if err := es.access.grantTx(tx, original.ID, ownerID, wrappedDEK); err != nil {
			return err
		}
		return es.access.grantTx(tx, duplicate.ID, ownerID, wrappedDEK)
	})
	if err != nil {
		return nil, err
	}

	es.metrics.IncrementCounter("documents_encrypted", nil)
	es.metrics.ObserveSize("document_size", float64(len(raw)))
	es.metrics.ObserveLatency("document_upload", time.Since(start))

	es.logger.Info("Document encrypted and stored",
		zap.String("document_id", duplicate.ID),
		zap.Uint("owner_id", ownerID))

	return &UploadResult{DocumentID: duplicate.ID, OriginalDocumentID: original.ID}, nil
}

// GetDocument fetches one document row by ID.
func (es *EncryptionService) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	if err := es.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns the interactive (duplicate) documents a user holds
// a grant on, newest first.
func (es *EncryptionService) ListDocuments(ctx context.Context, userID uint) ([]models.Document, error) {
	ids, err := es.access.ListDocumentsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	var docs []models.Document
	if err := es.db.WithContext(ctx).
		Where("id IN ? AND version_type = ?", ids, models.VersionDuplicate).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// ReadDocument decrypts a document for a caller who holds a grant. Every
// failure on the way fails closed; partial plaintext is never returned.
func (es *EncryptionService) ReadDocument(ctx context.Context, documentID string, userID uint, privateKeyPEM string) ([]byte, error) {
	doc, err := es.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	grant, err := es.access.GrantFor(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}

	ciphertext, err := envelope.Decode(doc.EncryptedFileData)
	if err != nil {
		es.logger.Error("envelope decode failed", zap.String("document_id", documentID), zap.Error(err))
		return nil, err
	}

	iv, err := decodeIV(doc.IV)
	if err != nil {
		return nil, err
	}

	dek, err := keywrap.UnwrapDEK(grant.EncryptedAESKey, privateKeyPEM)
	if err != nil {
		es.logger.Error("DEK unwrap failed", zap.String("document_id", documentID), zap.Uint("user_id", userID))
		return nil, ErrDecryptionFailed
	}

	plaintext, err := keywrap.DecryptCBC(ciphertext, dek, iv)
	if err != nil {
		es.logger.Error("content decryption failed", zap.String("document_id", documentID))
		return nil, ErrDecryptionFailed
	}

	raw, err := base64.StdEncoding.DecodeString(string(plaintext))
	if err != nil {
		return nil, errs.Integrity("decrypted payload is not valid base64")
	}

	es.metrics.IncrementCounter("documents_decrypted", nil)
	return raw, nil
}

// ReEncrypt replaces the document content using the existing DEK and IV.
// The caller must hold a grant; all other grants remain valid because key
// material never changes. Only the envelope column is overwritten.
func (es *EncryptionService) ReEncrypt(ctx context.Context, doc *models.Document, newRaw []byte, userID uint, privateKeyPEM string) (string, error) {
	env, err := es.reEncryptEnvelope(ctx, doc, newRaw, userID, privateKeyPEM)
	if err != nil {
		return "", err
	}
	if err := es.db.WithContext(ctx).Model(doc).
		Update("encrypted_file_data", env).Error; err != nil {
		return "", err
	}
	return env, nil
}

// reEncryptEnvelope runs the crypto without touching storage, so callers
// that need transactional writes can persist the result themselves.
func (es *EncryptionService) reEncryptEnvelope(ctx context.Context, doc *models.Document, newRaw []byte, userID uint, privateKeyPEM string) (string, error) {
	grant, err := es.access.GrantFor(ctx, doc.ID, userID)
	if err != nil {
		return "", err
	}

	iv, err := decodeIV(doc.IV)
	if err != nil {
		return "", err
	}
	dek, err := keywrap.UnwrapDEK(grant.EncryptedAESKey, privateKeyPEM)
	if err != nil {
		es.logger.Error("DEK unwrap failed during re-encryption", zap.String("document_id", doc.ID))
		return "", ErrDecryptionFailed
	}

	encoded := base64.StdEncoding.EncodeToString(newRaw)
	ciphertext, err := keywrap.EncryptCBC([]byte(encoded), dek, iv)
	if err != nil {
		return "", err
	}

	es.metrics.IncrementCounter("documents_reencrypted", nil)
	return envelope.Encode(ciphertext)
}

// AddCollaborator unwraps the DEK through the owner's grant, rewraps the
// same raw DEK under the recipient's certificate, and inserts the new
// grant. This round-trip is the only path by which a second principal
// gains access to a document.
func (es *EncryptionService) AddCollaborator(ctx context.Context, documentID string, ownerID uint, ownerPrivateKeyPEM string, recipientID uint) error {
	doc, err := es.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != ownerID {
		return errs.Authorization("only the owner may share this document")
	}

	ownerGrant, err := es.access.GrantFor(ctx, documentID, ownerID)
	if err != nil {
		return err
	}

	recipientCert, err := es.certs.ActiveCertificate(ctx, recipientID)
	if err != nil {
		return err
	}

	dek, err := keywrap.UnwrapDEK(ownerGrant.EncryptedAESKey, ownerPrivateKeyPEM)
	if err != nil {
		es.logger.Error("owner DEK unwrap failed", zap.String("document_id", documentID), zap.Uint("owner_id", ownerID))
		return ErrDecryptionFailed
	}

	wrapped, err := keywrap.WrapDEK(dek, recipientCert.Certificate)
	if err != nil {
		es.logger.Error("recipient DEK wrap failed", zap.String("document_id", documentID), zap.Uint("recipient_id", recipientID))
		return err
	}

	if err := es.access.Grant(ctx, documentID, recipientID, wrapped); err != nil {
		return err
	}

	es.metrics.IncrementCounter("collaborators_added", nil)
	es.logger.Info("Collaborator added",
		zap.String("document_id", documentID),
		zap.Uint("owner_id", ownerID),
		zap.Uint("recipient_id", recipientID))
	return nil
}

// SendForSigning moves a draft document to pending once the owner has
// placed its signature boxes.
func (es *EncryptionService) SendForSigning(ctx context.Context, documentID string, ownerID uint) error {
	doc, err := es.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != ownerID {
		return errs.Authorization("only the owner may send this document")
	}
	if doc.Status != models.StatusDraft {
		return errs.Validation("document is not in draft")
	}
	return es.db.WithContext(ctx).Model(doc).
		Update("status", models.StatusPending).Error
}

// RevokeDocument withdraws a document from circulation.
func (es *EncryptionService) RevokeDocument(ctx context.Context, documentID string, ownerID uint) error {
	doc, err := es.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != ownerID {
		return errs.Authorization("only the owner may revoke this document")
	}
	if err := es.db.WithContext(ctx).Model(doc).
		Update("status", models.StatusRevoked).Error; err != nil {
		return err
	}
	es.logger.Info("Document revoked", zap.String("document_id", documentID), zap.Uint("owner_id", ownerID))
	return nil
}

func decodeIV(encoded string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Integrity("IV is not valid base64")
	}
	if len(iv) != keywrap.IVSize {
		return nil, errs.Integrity("IV must decode to exactly 16 bytes")
	}
	return iv, nil
}
