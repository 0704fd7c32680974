package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/services"
)

type DocumentHandler struct {
	encryption *services.EncryptionService
	access     *services.AccessService
	db         *gorm.DB
	logger     *zap.Logger
}

func NewDocumentHandler(encryption *services.EncryptionService, access *services.AccessService, db *gorm.DB, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		encryption: encryption,
		access:     access,
		db:         db,
		logger:     logger.With(zap.String("handler", "document")),
	}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := c.GetUint("userID")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Please choose a file to upload"})
		return
	}
	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Only PDF files are allowed"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Operation failed"})
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		h.logger.Error("read uploaded file failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Operation failed"})
		return
	}

	result, err := h.encryption.UploadDocument(c.Request.Context(), userID,
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":            true,
		"documentId":         result.DocumentID,
		"originalDocumentId": result.OriginalDocumentID,
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID := c.GetUint("userID")

	docs, err := h.encryption.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	type docSummary struct {
		ID       string                `json:"id"`
		FileName string                `json:"file_name"`
		Status   models.DocumentStatus `json:"status"`
		Owner    bool                  `json:"owner"`
	}
	summaries := make([]docSummary, len(docs))
	for i, d := range docs {
		summaries[i] = docSummary{
			ID:       d.ID,
			FileName: d.FileName,
			Status:   d.Status,
			Owner:    d.UserID == userID,
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "documents": summaries})
}

// Get returns the decrypted document content, base64-encoded, for a
// caller with a grant. The private key comes from the session.
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := c.GetUint("userID")
	privateKeyPEM := c.GetString("privateKeyPEM")
	docID := c.Param("id")

	raw, err := h.encryption.ReadDocument(c.Request.Context(), docID, userID, privateKeyPEM)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	doc, err := h.encryption.GetDocument(c.Request.Context(), docID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"file_name": doc.FileName,
		"file_type": doc.FileType,
		"status":    doc.Status,
		"data":      base64.StdEncoding.EncodeToString(raw),
	})
}

func (h *DocumentHandler) Download(c *gin.Context) {
	userID := c.GetUint("userID")
	privateKeyPEM := c.GetString("privateKeyPEM")
	docID := c.Param("id")

	raw, err := h.encryption.ReadDocument(c.Request.Context(), docID, userID, privateKeyPEM)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	doc, err := h.encryption.GetDocument(c.Request.Context(), docID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `inline; filename="`+doc.FileName+`"`)
	c.Writer.Write(raw)
}

type addCollaboratorRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *DocumentHandler) AddCollaborator(c *gin.Context) {
	userID := c.GetUint("userID")
	privateKeyPEM := c.GetString("privateKeyPEM")
	docID := c.Param("id")

	var req addCollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Validation failed"})
		return
	}

	var recipient models.User
	if err := h.db.Where("email = ?", req.Email).First(&recipient).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
		return
	}

	if err := h.encryption.AddCollaborator(c.Request.Context(), docID, userID, privateKeyPEM, recipient.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Collaborator added successfully"})
}

func (h *DocumentHandler) ListCollaborators(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")

	doc, err := h.encryption.GetDocument(c.Request.Context(), docID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if _, err := h.access.GrantFor(c.Request.Context(), docID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	grants, err := h.access.ListCollaborators(c.Request.Context(), docID, doc.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	type collaborator struct {
		UserID   uint   `json:"user_id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	out := make([]collaborator, len(grants))
	for i, g := range grants {
		out[i] = collaborator{UserID: g.UserID, Username: g.User.Username, Email: g.User.Email}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "collaborators": out})
}

func (h *DocumentHandler) RemoveCollaborator(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")
	collaboratorID := c.Param("userId")

	doc, err := h.encryption.GetDocument(c.Request.Context(), docID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if doc.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Only the owner may remove collaborators"})
		return
	}

	var target models.User
	if err := h.db.First(&target, collaboratorID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
		return
	}

	if err := h.access.Revoke(c.Request.Context(), docID, target.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *DocumentHandler) Send(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")

	if err := h.encryption.SendForSigning(c.Request.Context(), docID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *DocumentHandler) Revoke(c *gin.Context) {
	userID := c.GetUint("userID")
	docID := c.Param("id")

	if err := h.encryption.RevokeDocument(c.Request.Context(), docID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
