package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/api"
	"github.com/frfusch21/digital-signer-app/internal/ca"
	"github.com/frfusch21/digital-signer-app/internal/config"
	"github.com/frfusch21/digital-signer-app/internal/db"
	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/rendering"
	"github.com/frfusch21/digital-signer-app/internal/services"
	"github.com/frfusch21/digital-signer-app/pkg/logger"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

func main() {
	config.LoadEnv()
	cfg := config.InitializeDefaultConfig()

	zapLogger, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	authority, err := loadAuthority(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load certificate authority", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()
	sessions := services.NewSessionStore(cfg.Security.SessionTimeout)
	defer sessions.Close()

	keyService := services.NewKeyService(database, authority, zapLogger, metricsCollector)
	certificateService := services.NewCertificateService(database, authority, zapLogger)
	accessService := services.NewAccessService(database, zapLogger)
	encryptionService := services.NewEncryptionService(database, accessService, certificateService, zapLogger, metricsCollector)
	renderer := rendering.NewHTTPRenderer(cfg.Rendering.URL, cfg.Rendering.Timeout, zapLogger)
	signingService := services.NewSigningService(database, encryptionService, certificateService, renderer, cfg.Signing.NonceTTL, zapLogger, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedDatabase(ctx, database, keyService, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	router := api.NewRouter(zapLogger, metricsCollector, sessions, keyService, encryptionService, accessService, signingService, certificateService, database)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

// loadAuthority reads the root CA key pair from disk, generating a
// fresh root on first boot.
func loadAuthority(cfg *config.Configuration, zapLogger *zap.Logger) (ca.Authority, error) {
	authority, err := ca.Load(cfg.CA.Dir)
	if err == nil {
		return authority, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	zapLogger.Info("No CA material found, generating root", zap.String("dir", cfg.CA.Dir))
	if err := ca.GenerateRoot(cfg.CA.Dir, cfg.CA.ValidityDays); err != nil {
		return nil, err
	}
	return ca.Load(cfg.CA.Dir)
}

func seedDatabase(ctx context.Context, database *gorm.DB, keyService *services.KeyService, zapLogger *zap.Logger) error {
	var count int64
	database.Model(&models.User{}).Count(&count)
	if count > 0 {
		zapLogger.Info("Database already seeded, skipping")
		return nil
	}
	zapLogger.Info("Seeding database with initial data")

	seeds := []struct {
		username string
		email    string
		password string
		role     models.UserRole
	}{
		{"alice", "alice@clarisign.test", "alice-signs-2024", models.RoleUser},
		{"bob", "bob@clarisign.test", "bob-signs-2024", models.RoleUser},
		{"admin", "admin@clarisign.test", "admin-signs-2024", models.RoleAdmin},
	}

	for _, s := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(s.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user := models.User{
			Username:     s.username,
			Email:        s.email,
			PasswordHash: string(hash),
			Role:         s.role,
			ActiveStatus: true,
		}
		if err := database.Create(&user).Error; err != nil {
			return err
		}

		material, err := keyService.GenerateUserKeyMaterial(ctx, s.username, s.email, s.password)
		if err != nil {
			return err
		}
		if err := keyService.StoreUserKeyMaterial(ctx, user.ID, material); err != nil {
			return err
		}
		zapLogger.Info("Seeded user with key material",
			zap.String("username", s.username),
			zap.Uint("user_id", user.ID),
			zap.String("serial_number", material.SerialNumber))
	}

	zapLogger.Info("Database seeding completed successfully")
	return nil
}
