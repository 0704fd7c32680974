package services

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frfusch21/digital-signer-app/internal/ca"
	"github.com/frfusch21/digital-signer-app/internal/db"
	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/keywrap"
	"github.com/frfusch21/digital-signer-app/internal/rendering"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

// stubRenderer stands in for the rendering service. It appends a marker
// to the document bytes so tests can observe that the rendered output,
// not the input, ended up in the envelope.
type stubRenderer struct {
	calls int
	fail  bool
}

func (r *stubRenderer) RenderSignatures(ctx context.Context, raw []byte, certPEM string, signature []byte, boxes []rendering.Box) ([]byte, error) {
	r.calls++
	if r.fail {
		return nil, errors.New("render backend unavailable")
	}
	out := append([]byte{}, raw...)
	return append(out, []byte("::signed")...), nil
}

type testEnv struct {
	db         *gorm.DB
	authority  ca.Authority
	keys       *KeyService
	certs      *CertificateService
	access     *AccessService
	encryption *EncryptionService
	signing    *SigningService
	renderer   *stubRenderer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(database))

	authority, err := ca.Ephemeral(365)
	require.NoError(t, err)

	log := zap.NewNop()
	collector := metrics.NewMetricsCollector()

	keys := NewKeyService(database, authority, log, collector)
	certs := NewCertificateService(database, authority, log)
	access := NewAccessService(database, log)
	encryption := NewEncryptionService(database, access, certs, log, collector)
	renderer := &stubRenderer{}
	signing := NewSigningService(database, encryption, certs, renderer, 30*time.Minute, log, collector)

	return &testEnv{
		db:         database,
		authority:  authority,
		keys:       keys,
		certs:      certs,
		access:     access,
		encryption: encryption,
		signing:    signing,
		renderer:   renderer,
	}
}

// createUser registers a user with full key material and returns the
// material so tests can act with the unlocked private key.
func (env *testEnv) createUser(t *testing.T, username, password string) (*models.User, *UserKeyMaterial) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{
		Username:     username,
		Email:        username + "@clarisign.test",
		PasswordHash: "not-checked-here",
		Role:         models.RoleUser,
		ActiveStatus: true,
	}
	require.NoError(t, env.db.Create(user).Error)

	material, err := env.keys.GenerateUserKeyMaterial(ctx, username, user.Email, password)
	require.NoError(t, err)
	require.NoError(t, env.keys.StoreUserKeyMaterial(ctx, user.ID, material))
	return user, material
}

// signHash produces the base64 signature a client would submit: an RSA
// PKCS#1 v1.5 signature over sha256 of the hex hash string.
func signHash(t *testing.T, privatePEM, hash string) string {
	t.Helper()
	key, err := keywrap.ParsePrivateKey(privatePEM)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(hash))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}
