package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frfusch21/digital-signer-app/internal/services"
)

type CertificateHandler struct {
	certs  *services.CertificateService
	logger *zap.Logger
}

func NewCertificateHandler(certs *services.CertificateService, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		certs:  certs,
		logger: logger.With(zap.String("handler", "certificate")),
	}
}

func (h *CertificateHandler) List(c *gin.Context) {
	userID := c.GetUint("userID")

	certs, err := h.certs.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	type certSummary struct {
		ID           uint   `json:"id"`
		SerialNumber string `json:"serial_number"`
		Issuer       string `json:"issuer"`
		Status       string `json:"status"`
	}
	out := make([]certSummary, len(certs))
	for i, cert := range certs {
		out[i] = certSummary{
			ID:           cert.ID,
			SerialNumber: cert.SerialNumber,
			Issuer:       cert.Issuer,
			Status:       string(cert.Status),
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "certificates": out})
}

func (h *CertificateHandler) Download(c *gin.Context) {
	userID := c.GetUint("userID")

	cert, err := h.certs.ActiveCertificate(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "application/x-pem-file")
	c.Header("Content-Disposition", `attachment; filename="certificate.pem"`)
	c.String(http.StatusOK, cert.Certificate)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *CertificateHandler) Revoke(c *gin.Context) {
	userID := c.GetUint("userID")

	certID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid certificate id"})
		return
	}

	var req revokeRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.certs.Revoke(c.Request.Context(), userID, uint(certID), req.Reason); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
