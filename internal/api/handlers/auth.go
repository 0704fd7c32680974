package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/services"
)

type AuthHandler struct {
	keyService *services.KeyService
	sessions   *services.SessionStore
	db         *gorm.DB
	logger     *zap.Logger
}

func NewAuthHandler(keyService *services.KeyService, sessions *services.SessionStore, db *gorm.DB, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		keyService: keyService,
		sessions:   sessions,
		db:         db,
		logger:     logger.With(zap.String("handler", "auth")),
	}
}

type registerRequest struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Register creates the account plus its full key material: key pair,
// wrapped private key, certificate issued by the CA.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("password hashing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Operation failed"})
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleUser,
		ActiveStatus: true,
	}
	if err := h.db.Create(user).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Username or email already taken"})
		return
	}

	material, err := h.keyService.GenerateUserKeyMaterial(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.keyService.StoreUserKeyMaterial(c.Request.Context(), user.ID, material); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("User registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	c.JSON(http.StatusCreated, gin.H{
		"success":       true,
		"user_id":       user.ID,
		"serial_number": material.SerialNumber,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies the password, unlocks the private key with the same
// password, and binds both the user and the unlocked key to a session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	var user models.User
	if err := h.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if !user.ActiveStatus {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Account disabled"})
		return
	}

	privateKeyPEM, err := h.keyService.UnlockPrivateKey(c.Request.Context(), user.ID, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	token := h.sessions.Create(user.ID, privateKeyPEM, c.ClientIP(), c.Request.UserAgent())
	h.db.Model(&user).Update("last_login", time.Now())

	c.SetCookie("session_token", token, int((24 * time.Hour).Seconds()), "/", "", false, true)
	h.logger.Info("User logged in", zap.Uint("user_id", user.ID), zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"success": true, "user_id": user.ID})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie("session_token"); err == nil {
		h.sessions.Delete(token)
	}
	c.SetCookie("session_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
