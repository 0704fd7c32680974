package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/ca"
	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/errs"
)

var (
	ErrCertificateNotFound = errs.NotFound("certificate not found")
	ErrNoActiveCertificate = errs.NotFound("no active certificate found for this account")
	ErrCertificateRevoked  = errs.New(errs.KindConflict, "certificate has been revoked")
)

// CertificateService manages issued certificates at the application level.
// Status (active/revoked/expired) is app-side bookkeeping on top of the
// X.509 validity fields; the CA itself lives in internal/ca.
type CertificateService struct {
	db        *gorm.DB
	authority ca.Authority
	logger    *zap.Logger
}

func NewCertificateService(db *gorm.DB, authority ca.Authority, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		db:        db,
		authority: authority,
		logger:    logger.With(zap.String("service", "certificate_service")),
	}
}

// ActiveCertificate returns the user's single active certificate.
func (cs *CertificateService) ActiveCertificate(ctx context.Context, userID uint) (*models.Certificate, error) {
	var cert models.Certificate
	err := cs.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", userID, models.CertActive).
		First(&cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCertificate
		}
		return nil, err
	}
	return &cert, nil
}

func (cs *CertificateService) ListForUser(ctx context.Context, userID uint) ([]models.Certificate, error) {
	var certs []models.Certificate
	if err := cs.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at DESC").
		Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// Verify checks the certificate chains to the root and is still active at
// the application level.
func (cs *CertificateService) Verify(ctx context.Context, certID uint) error {
	var cert models.Certificate
	if err := cs.db.WithContext(ctx).First(&cert, certID).Error; err != nil {
		return ErrCertificateNotFound
	}
	if cert.Status == models.CertRevoked {
		return ErrCertificateRevoked
	}
	return cs.authority.Verify(cert.Certificate)
}

// Revoke marks the certificate revoked and records a revocation-list entry
// with the reason. Revocation is not consulted by the signing protocol.
func (cs *CertificateService) Revoke(ctx context.Context, callerID, certID uint, reason string) error {
	var cert models.Certificate
	if err := cs.db.WithContext(ctx).First(&cert, certID).Error; err != nil {
		return ErrCertificateNotFound
	}

	if cert.OwnerID != callerID && !cs.isAdmin(ctx, callerID) {
		return errs.Authorization("only the owner may revoke this certificate")
	}
	if cert.Status == models.CertRevoked {
		return ErrCertificateRevoked
	}

	now := time.Now()
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&cert).Update("status", models.CertRevoked).Error; err != nil {
			return err
		}
		entry := &models.CertificateRevocation{
			CertID:       cert.ID,
			SerialNumber: cert.SerialNumber,
			Reason:       reason,
			RevokedAt:    now,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return err
	}

	cs.logger.Info("Certificate revoked",
		zap.Uint("cert_id", certID),
		zap.Uint("user_id", callerID),
		zap.String("reason", reason),
	)
	return nil
}

func (cs *CertificateService) isAdmin(ctx context.Context, userID uint) bool {
	var user models.User
	if err := cs.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return false
	}
	return user.Role == models.RoleAdmin
}
