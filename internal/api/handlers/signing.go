package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frfusch21/digital-signer-app/internal/services"
)

type SigningHandler struct {
	signing *services.SigningService
	logger  *zap.Logger
}

func NewSigningHandler(signing *services.SigningService, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		signing: signing,
		logger:  logger.With(zap.String("handler", "signing")),
	}
}

type initiateRequest struct {
	DocumentID     string             `json:"document_id" binding:"required"`
	SignatureBoxes []services.BoxSpec `json:"signature_boxes" binding:"required"`
}

func (h *SigningHandler) Initiate(c *gin.Context) {
	userID := c.GetUint("userID")

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	result, err := h.signing.Initiate(c.Request.Context(), req.DocumentID, userID, c.ClientIP(), req.SignatureBoxes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Signing process initiated",
		"nonce":         result.Nonce,
		"document_hash": result.Hash,
		"expires_at":    result.ExpiresAt,
	})
}

type completeRequest struct {
	DocumentID     string               `json:"document_id" binding:"required"`
	Nonce          string               `json:"nonce" binding:"required"`
	Signature      string               `json:"signature" binding:"required"`
	SignatureBoxes []services.BoxUpdate `json:"signature_boxes" binding:"required"`
	DocumentData   string               `json:"document_data" binding:"required"`
}

func (h *SigningHandler) Complete(c *gin.Context) {
	userID := c.GetUint("userID")
	privateKeyPEM := c.GetString("privateKeyPEM")

	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	err := h.signing.Complete(c.Request.Context(), services.CompleteParams{
		DocumentID:    req.DocumentID,
		UserID:        userID,
		Nonce:         req.Nonce,
		Signature:     req.Signature,
		Boxes:         req.SignatureBoxes,
		DocumentData:  req.DocumentData,
		PrivateKeyPEM: privateKeyPEM,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Document signed successfully",
		"redirect_url": "/dashboard",
	})
}

type saveDraftRequest struct {
	DocumentID string              `json:"document_id" binding:"required"`
	Signatures []services.BoxDraft `json:"signatures" binding:"required"`
}

func (h *SigningHandler) SaveDraft(c *gin.Context) {
	userID := c.GetUint("userID")

	var req saveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	if err := h.signing.SaveDraftBoxes(c.Request.Context(), req.DocumentID, userID, req.Signatures); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SigningHandler) ListBoxes(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")

	boxes, err := h.signing.ListBoxes(c.Request.Context(), docID, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "signatures": boxes})
}

func (h *SigningHandler) DeleteBox(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")

	boxID, err := strconv.ParseUint(c.Param("boxId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Invalid box id"})
		return
	}

	if err := h.signing.DeleteBox(c.Request.Context(), docID, uint(boxID), userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
