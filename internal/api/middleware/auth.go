package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/services"
)

type AuthMiddleware struct {
	sessions *services.SessionStore
	db       *gorm.DB
}

func NewAuthMiddleware(sessions *services.SessionStore, db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		db:       db,
	}
}

// RequireAuth resolves the session cookie and loads the caller into the
// request context, including the session-held private key PEM.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionToken, err := c.Cookie("session_token")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authentication required",
			})
			return
		}

		session, valid := am.sessions.Get(sessionToken)
		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Session expired",
			})
			return
		}

		var user models.User
		if err := am.db.First(&user, session.UserID).Error; err != nil || !user.ActiveStatus {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Account unavailable",
			})
			return
		}

		c.Set("userID", session.UserID)
		c.Set("username", user.Username)
		c.Set("role", string(user.Role))
		c.Set("privateKeyPEM", session.PrivateKeyPEM)
		c.Next()
	}
}
