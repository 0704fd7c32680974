package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frfusch21/digital-signer-app/internal/errs"
)

// respondError maps the error taxonomy onto HTTP statuses. Validation and
// authorization failures carry their message through; crypto and integrity
// failures return a generic message, with full detail logged server-side.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind, known := errs.KindOf(err)
	if !known {
		logger.Error("unclassified error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Operation failed",
		})
		return
	}

	switch kind {
	case errs.KindValidation:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": errMessage(err)})
	case errs.KindAuthorization:
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": errMessage(err)})
	case errs.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": errMessage(err)})
	case errs.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": errMessage(err)})
	case errs.KindExternalService:
		logger.Error("external service failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Operation failed"})
	default: // crypto, integrity
		logger.Error("crypto/integrity failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Operation failed"})
	}
}

func errMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Operation failed"
}
