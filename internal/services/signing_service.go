package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frfusch21/digital-signer-app/internal/ca"
	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/errs"
	"github.com/frfusch21/digital-signer-app/internal/rendering"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

var (
	ErrInvalidOrExpiredNonce = errs.New(errs.KindConflict, "invalid or expired nonce")
	ErrBoxNotFound           = errs.NotFound("one or more signature boxes not found")
	ErrNotYourBox            = errs.Authorization("you can only sign your own signature boxes")
	ErrNoSigningPermission   = errs.Authorization("no permission to sign this document")
	ErrBoxSnapshotMismatch   = errs.Validation("signature boxes do not match the signed snapshot")
	ErrRenderingFailed       = errs.New(errs.KindExternalService, "failed to apply signature to document")
)

const nonceLength = 32

// SigningService drives the nonce-gated two-phase signing protocol:
// initiate binds a signer to a hash of the exact document snapshot,
// complete consumes the nonce exactly once and applies the signature
// atomically.
type SigningService struct {
	db         *gorm.DB
	encryption *EncryptionService
	certs      *CertificateService
	renderer   rendering.Renderer
	nonceTTL   time.Duration
	logger     *zap.Logger
	metrics    *metrics.MetricsCollector
}

// BoxSpec is one signature box as submitted to initiate. Its JSON form is
// part of the signing hash, so field order and names must stay stable for
// any compatible client.
type BoxSpec struct {
	BoxID   string `json:"box_id"`
	DBID    uint   `json:"db_id"`
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// BoxUpdate carries the content a completed signing writes into a box.
type BoxUpdate struct {
	DBID    uint   `json:"db_id"`
	Content string `json:"content"`
}

type InitiateResult struct {
	Nonce     string
	Hash      string
	ExpiresAt time.Time
}

// CompleteParams is everything a complete call needs. DocumentData is the
// base64 of the current plaintext the client holds; PrivateKeyPEM is the
// signer's unlocked key, used for the DEK unwrap during re-encryption.
type CompleteParams struct {
	DocumentID    string
	UserID        uint
	Nonce         string
	Signature     string // base64
	Boxes         []BoxUpdate
	DocumentData  string // base64 raw document bytes
	PrivateKeyPEM string
}

func NewSigningService(db *gorm.DB, encryption *EncryptionService, certs *CertificateService, renderer rendering.Renderer, nonceTTL time.Duration, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *SigningService {
	if nonceTTL <= 0 {
		nonceTTL = 30 * time.Minute
	}
	return &SigningService{
		db:         db,
		encryption: encryption,
		certs:      certs,
		renderer:   renderer,
		nonceTTL:   nonceTTL,
		logger:     logger.With(zap.String("service", "signing_service")),
		metrics:    metricsCollector,
	}
}

// SigningHash computes sha256(documentID || nonce || JSON(boxes)) as a hex
// string. The concatenation order and box serialization are part of the
// wire contract and must be reproduced bit-for-bit by clients.
func SigningHash(documentID, nonce string, boxes []BoxSpec) (string, error) {
	boxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return "", errs.Wrap(errs.KindIntegrity, "failed to serialize signature boxes", err)
	}
	sum := sha256.Sum256([]byte(documentID + nonce + string(boxesJSON)))
	return hex.EncodeToString(sum[:]), nil
}

// Initiate validates the signer and their boxes, then issues a single-use
// nonce bound to the snapshot hash. The caller signs the hash, not the
// nonce. Multiple live nonces per (document, signer) are allowed; only one
// can ever complete.
func (ss *SigningService) Initiate(ctx context.Context, documentID string, userID uint, ipAddress string, boxes []BoxSpec) (*InitiateResult, error) {
	if len(boxes) == 0 {
		return nil, errs.Validation("at least one signature box is required")
	}
	for _, b := range boxes {
		if b.Page < 1 {
			return nil, errs.Validation("signature box page must be >= 1")
		}
	}

	doc, err := ss.encryption.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	// The signer must be the owner or hold at least one assigned box.
	if doc.UserID != userID {
		var assigned int64
		if err := ss.db.WithContext(ctx).Model(&models.SignatureBox{}).
			Where("document_id = ? AND user_id = ?", documentID, userID).
			Count(&assigned).Error; err != nil {
			return nil, err
		}
		if assigned == 0 {
			return nil, ErrNoSigningPermission
		}
	}

	// Every referenced box must exist on this document and belong to the
	// signer; a mismatch is fatal, never silently filtered.
	ids := make([]uint, len(boxes))
	for i, b := range boxes {
		ids[i] = b.DBID
	}
	var rows []models.SignatureBox
	if err := ss.db.WithContext(ctx).
		Where("id IN ? AND document_id = ?", ids, documentID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		return nil, ErrBoxNotFound
	}
	for _, row := range rows {
		if row.UserID != userID {
			return nil, ErrNotYourBox
		}
	}

	if _, err := ss.certs.ActiveCertificate(ctx, userID); err != nil {
		return nil, err
	}

	nonce, err := randomNonce(nonceLength)
	if err != nil {
		return nil, err
	}
	hash, err := SigningHash(documentID, nonce, boxes)
	if err != nil {
		return nil, err
	}
	boxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, "failed to serialize signature boxes", err)
	}

	entry := &models.SignatureNonce{
		ID:         uuid.New().String(),
		Nonce:      nonce,
		UserID:     userID,
		DocumentID: documentID,
		Hash:       hash,
		Boxes:      string(boxesJSON),
		ExpiresAt:  time.Now().Add(ss.nonceTTL),
		Used:       false,
		Status:     models.NoncePending,
		IPAddress:  ipAddress,
	}
	if err := ss.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}

	ss.metrics.IncrementCounter("nonces_issued", nil)
	ss.logger.Info("Signing initiated",
		zap.String("document_id", documentID),
		zap.Uint("user_id", userID),
		zap.Int("boxes", len(boxes)))

	return &InitiateResult{Nonce: nonce, Hash: hash, ExpiresAt: entry.ExpiresAt}, nil
}

// Complete consumes a nonce and applies the signature. Preconditions are
// checked in order, each a distinct rejection: nonce validity, box set
// equal to the hashed snapshot, document existence, active certificate,
// signature verification against the stored hash. The external render runs before the transaction opens; the
// envelope, box and nonce writes then commit together or not at all.
func (ss *SigningService) Complete(ctx context.Context, p CompleteParams) error {
	start := time.Now()

	nonceRow, err := ss.findLiveNonce(ss.db.WithContext(ctx), p)
	if err != nil {
		return err
	}

	// The hash the client signed binds the box contents captured at
	// initiate; the updates applied now must be that exact snapshot.
	if err := matchesSnapshot(nonceRow.Boxes, p.Boxes); err != nil {
		ss.logger.Warn("box snapshot mismatch",
			zap.String("document_id", p.DocumentID),
			zap.Uint("user_id", p.UserID))
		return err
	}

	doc, err := ss.encryption.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return err
	}

	cert, err := ss.certs.ActiveCertificate(ctx, p.UserID)
	if err != nil {
		return err
	}

	signature, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return errs.Validation("signature is not valid base64")
	}
	if err := ca.VerifyHashSignature(cert.Certificate, nonceRow.Hash, signature); err != nil {
		ss.logger.Warn("signature verification failed",
			zap.String("document_id", p.DocumentID),
			zap.Uint("user_id", p.UserID))
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(p.DocumentData)
	if err != nil {
		return errs.Validation("document data is not valid base64")
	}

	boxRows, err := ss.loadBoxRows(ctx, p)
	if err != nil {
		return err
	}

	// Render outside the transaction so no row lock is held across
	// network I/O to the rendering service.
	signedRaw, err := ss.renderer.RenderSignatures(ctx, raw, cert.Certificate, signature, boxRows)
	if err != nil {
		ss.logger.Error("rendering failed", zap.String("document_id", p.DocumentID), zap.Error(err))
		return ErrRenderingFailed
	}

	newEnvelope, err := ss.encryption.reEncryptEnvelope(ctx, doc, signedRaw, p.UserID, p.PrivateKeyPEM)
	if err != nil {
		return err
	}

	now := time.Now()
	err = ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check the nonce under a row lock so two concurrent
		// completes cannot both observe used=false.
		locked, err := ss.findLiveNonce(lockForUpdate(tx), p)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Update("encrypted_file_data", newEnvelope).Error; err != nil {
			return err
		}

		for _, b := range p.Boxes {
			if err := tx.Model(&models.SignatureBox{}).
				Where("id = ? AND document_id = ?", b.DBID, p.DocumentID).
				Updates(map[string]interface{}{
					"status":  models.BoxActive,
					"content": b.Content,
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.SignatureNonce{}).
			Where("id = ?", locked.ID).
			Updates(map[string]interface{}{
				"used":      true,
				"status":    models.NonceUsed,
				"signed_at": now,
			}).Error; err != nil {
			return err
		}

		return ss.finalizeIfFullySigned(tx, doc.ID)
	})
	if err != nil {
		return err
	}

	ss.metrics.IncrementCounter("signings_completed", nil)
	ss.metrics.ObserveLatency("signing_complete", time.Since(start))
	ss.logger.Info("Signing completed",
		zap.String("document_id", p.DocumentID),
		zap.Uint("user_id", p.UserID),
		zap.Int("boxes", len(p.Boxes)))
	return nil
}

// matchesSnapshot checks the box updates against the box set serialized
// into the nonce hash at initiate: same boxes, same contents, nothing
// added or dropped.
func matchesSnapshot(snapshotJSON string, updates []BoxUpdate) error {
	var snapshot []BoxSpec
	if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
		return errs.Wrap(errs.KindIntegrity, "stored box snapshot is not valid JSON", err)
	}
	if len(updates) != len(snapshot) {
		return ErrBoxSnapshotMismatch
	}

	contentByID := make(map[uint]string, len(snapshot))
	for _, b := range snapshot {
		contentByID[b.DBID] = b.Content
	}
	for _, u := range updates {
		content, ok := contentByID[u.DBID]
		if !ok || content != u.Content {
			return ErrBoxSnapshotMismatch
		}
	}
	return nil
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// findLiveNonce resolves the nonce row that matches the caller and is
// still consumable. Anything else (unknown, foreign, used, expired) is
// the same rejection.
func (ss *SigningService) findLiveNonce(tx *gorm.DB, p CompleteParams) (*models.SignatureNonce, error) {
	var row models.SignatureNonce
	err := tx.
		Where("nonce = ? AND document_id = ? AND user_id = ?", p.Nonce, p.DocumentID, p.UserID).
		Where("used = ? AND status = ? AND expires_at > ?", false, models.NoncePending, time.Now()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidOrExpiredNonce
		}
		// A storage failure is not a protocol rejection.
		return nil, errs.Wrap(errs.KindIntegrity, "failed to look up signing nonce", err)
	}
	return &row, nil
}

func (ss *SigningService) loadBoxRows(ctx context.Context, p CompleteParams) ([]rendering.Box, error) {
	contentByID := make(map[uint]string, len(p.Boxes))
	ids := make([]uint, len(p.Boxes))
	for i, b := range p.Boxes {
		ids[i] = b.DBID
		contentByID[b.DBID] = b.Content
	}

	var rows []models.SignatureBox
	if err := ss.db.WithContext(ctx).
		Where("id IN ? AND document_id = ?", ids, p.DocumentID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) != len(ids) {
		return nil, ErrBoxNotFound
	}

	boxes := make([]rendering.Box, len(rows))
	for i, row := range rows {
		if row.UserID != p.UserID {
			return nil, ErrNotYourBox
		}
		boxes[i] = rendering.Box{
			ID:        row.ID,
			Page:      row.Page,
			RelX:      row.RelX,
			RelY:      row.RelY,
			RelWidth:  row.RelWidth,
			RelHeight: row.RelHeight,
			Type:      string(row.Type),
			Content:   contentByID[row.ID],
		}
	}
	return boxes, nil
}

// finalizeIfFullySigned advances the document to finalized once every box
// on it is active.
func (ss *SigningService) finalizeIfFullySigned(tx *gorm.DB, documentID string) error {
	var remaining int64
	if err := tx.Model(&models.SignatureBox{}).
		Where("document_id = ? AND status = ?", documentID, models.BoxPending).
		Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.Model(&models.Document{}).
		Where("id = ?", documentID).
		Update("status", models.StatusFinalized).Error
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomNonce(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Crypto("failed to generate nonce", err)
	}
	for i, b := range buf {
		buf[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(buf), nil
}
