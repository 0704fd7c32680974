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
	"github.com/frfusch21/digital-signer-app/internal/keywrap"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

var (
	ErrKeyNotFound   = errs.NotFound("no key material found for user")
	ErrWrongPassword = errs.New(errs.KindCrypto, "failed to unlock private key")
)

// KeyService owns per-user key material: generation at registration,
// wrapped storage, and unlock at login. The private key only ever exists
// in clear inside request-scoped memory.
type KeyService struct {
	db        *gorm.DB
	authority ca.Authority
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
}

// UserKeyMaterial is everything registration produces for one user.
type UserKeyMaterial struct {
	PublicKeyPEM        string
	PrivateKeyPEM       string // handed to the caller once, never stored
	EncryptedPrivateKey string
	KdfSalt             string
	CertificatePEM      string
	SerialNumber        string
}

func NewKeyService(db *gorm.DB, authority ca.Authority, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *KeyService {
	return &KeyService{
		db:        db,
		authority: authority,
		logger:    logger.With(zap.String("service", "key_service")),
		metrics:   metricsCollector,
	}
}

// GenerateUserKeyMaterial creates a key pair, derives a wrapping key from
// the password, encrypts the private key, and has the CA issue a
// certificate binding the public key to the user's identity.
func (ks *KeyService) GenerateUserKeyMaterial(ctx context.Context, username, email, password string) (*UserKeyMaterial, error) {
	start := time.Now()
	defer func() {
		ks.metrics.ObserveLatency("key_service.generate_material", time.Since(start))
	}()

	privatePEM, publicPEM, err := keywrap.GenerateKeyPair()
	if err != nil {
		ks.logger.Error("key pair generation failed", zap.Error(err))
		return nil, err
	}

	salt, err := keywrap.GenerateSalt()
	if err != nil {
		return nil, err
	}
	derived, err := keywrap.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	wrapped, err := keywrap.WrapPrivateKey(privatePEM, derived)
	if err != nil {
		ks.logger.Error("private key wrap failed", zap.Error(err))
		return nil, err
	}

	csr, err := ca.BuildCSR(privatePEM, username, email)
	if err != nil {
		ks.logger.Error("CSR build failed", zap.Error(err))
		return nil, err
	}
	certPEM, serial, err := ks.authority.Issue(csr, 0)
	if err != nil {
		ks.logger.Error("certificate issuance failed", zap.Error(err))
		return nil, err
	}

	ks.metrics.IncrementCounter("key_service.material_generated", nil)
	return &UserKeyMaterial{
		PublicKeyPEM:        publicPEM,
		PrivateKeyPEM:       privatePEM,
		EncryptedPrivateKey: wrapped,
		KdfSalt:             salt,
		CertificatePEM:      certPEM,
		SerialNumber:        serial,
	}, nil
}

// StoreUserKeyMaterial persists the wrapped key and certificate for a user
// in one transaction.
func (ks *KeyService) StoreUserKeyMaterial(ctx context.Context, userID uint, material *UserKeyMaterial) error {
	return ks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := &models.UserKey{
			UserID:              userID,
			EncryptedPrivateKey: material.EncryptedPrivateKey,
			KdfSalt:             material.KdfSalt,
		}
		if err := tx.Create(key).Error; err != nil {
			return err
		}
		cert := &models.Certificate{
			OwnerID:      userID,
			SerialNumber: material.SerialNumber,
			Certificate:  material.CertificatePEM,
			Issuer:       ca.RootDN.CommonName,
			Status:       models.CertActive,
		}
		return tx.Create(cert).Error
	})
}

// GetUserKey returns the stored wrapped key record for delivery to the
// client at login.
func (ks *KeyService) GetUserKey(ctx context.Context, userID uint) (*models.UserKey, error) {
	var key models.UserKey
	if err := ks.db.WithContext(ctx).Where("user_id = ?", userID).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// UnlockPrivateKey re-derives the wrapping key from the password and the
// stored salt and decrypts the private key. A wrong password shows up as a
// padding failure in the unwrap, surfaced as ErrWrongPassword.
func (ks *KeyService) UnlockPrivateKey(ctx context.Context, userID uint, password string) (string, error) {
	key, err := ks.GetUserKey(ctx, userID)
	if err != nil {
		return "", err
	}

	derived, err := keywrap.DeriveKey(password, key.KdfSalt)
	if err != nil {
		return "", err
	}
	privatePEM, err := keywrap.UnwrapPrivateKey(key.EncryptedPrivateKey, derived)
	if err != nil {
		ks.logger.Warn("private key unlock failed", zap.Uint("user_id", userID))
		ks.metrics.IncrementCounter("key_service.unlock_failed", nil)
		return "", ErrWrongPassword
	}
	return privatePEM, nil
}
