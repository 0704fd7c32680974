package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/api/handlers"
	"github.com/frfusch21/digital-signer-app/internal/api/middleware"
	"github.com/frfusch21/digital-signer-app/internal/services"
	"github.com/frfusch21/digital-signer-app/pkg/metrics"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.MetricsCollector
	authHandler    *handlers.AuthHandler
	docHandler     *handlers.DocumentHandler
	signingHandler *handlers.SigningHandler
	certHandler    *handlers.CertificateHandler
	authMiddleware *middleware.AuthMiddleware
	reqMiddleware  *middleware.RequestMiddleware
}

func NewRouter(
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	sessions *services.SessionStore,
	keyService *services.KeyService,
	encryption *services.EncryptionService,
	access *services.AccessService,
	signing *services.SigningService,
	certs *services.CertificateService,
	db *gorm.DB,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	authMiddleware := middleware.NewAuthMiddleware(sessions, db)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        metricsCollector,
		authHandler:    handlers.NewAuthHandler(keyService, sessions, db, logger),
		docHandler:     handlers.NewDocumentHandler(encryption, access, db, logger),
		signingHandler: handlers.NewSigningHandler(signing, logger),
		certHandler:    handlers.NewCertificateHandler(certs, logger),
		authMiddleware: authMiddleware,
		reqMiddleware:  reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "digital-signer"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.POST("/register", r.authHandler.Register)
	r.engine.POST("/login", r.reqMiddleware.LoginAttemptMiddleware(), r.authHandler.Login)
	r.engine.POST("/logout", r.authHandler.Logout)

	authorized := r.engine.Group("/api")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.POST("/documents", r.docHandler.Upload)
		authorized.GET("/documents", r.docHandler.List)
		authorized.GET("/documents/:id", r.docHandler.Get)
		authorized.GET("/documents/:id/download", r.docHandler.Download)
		authorized.POST("/documents/:id/send", r.docHandler.Send)
		authorized.POST("/documents/:id/revoke", r.docHandler.Revoke)
		authorized.POST("/documents/:id/collaborators", r.docHandler.AddCollaborator)
		authorized.GET("/documents/:id/collaborators", r.docHandler.ListCollaborators)
		authorized.DELETE("/documents/:id/collaborators/:userId", r.docHandler.RemoveCollaborator)

		authorized.GET("/documents/:id/signatures", r.signingHandler.ListBoxes)
		authorized.DELETE("/documents/:id/signatures/:boxId", r.signingHandler.DeleteBox)
		authorized.POST("/signatures/draft", r.signingHandler.SaveDraft)
		authorized.POST("/signing/initiate", r.signingHandler.Initiate)
		authorized.POST("/signing/complete", r.signingHandler.Complete)

		authorized.GET("/certificates", r.certHandler.List)
		authorized.GET("/certificates/download", r.certHandler.Download)
		authorized.POST("/certificates/revoke/:id", r.certHandler.Revoke)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
