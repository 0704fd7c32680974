// Package rendering wraps the external service that burns visual
// signatures into a document. The core treats it as a synchronous pure
// function over raw bytes; any non-success response fails the signing
// transaction.
package rendering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/frfusch21/digital-signer-app/internal/errs"
)

// Box is the placement and content metadata the renderer needs for one
// signature box.
type Box struct {
	ID        uint    `json:"db_id"`
	Page      int     `json:"page"`
	RelX      float64 `json:"rel_x"`
	RelY      float64 `json:"rel_y"`
	RelWidth  float64 `json:"rel_width"`
	RelHeight float64 `json:"rel_height"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
}

type Renderer interface {
	RenderSignatures(ctx context.Context, raw []byte, certPEM string, signature []byte, boxes []Box) ([]byte, error)
}

// HTTPRenderer posts the document, certificate, signature bytes and box
// metadata to the rendering service and returns the new document bytes.
type HTTPRenderer struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPRenderer(url string, timeout time.Duration, logger *zap.Logger) *HTTPRenderer {
	return &HTTPRenderer{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "renderer")),
	}
}

func (r *HTTPRenderer) RenderSignatures(ctx context.Context, raw []byte, certPEM string, signature []byte, boxes []Box) ([]byte, error) {
	boxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegrity, "failed to marshal signature boxes", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	parts := []struct {
		field, name string
		data        []byte
	}{
		{"document", "document.pdf", raw},
		{"certificate", "certificate.pem", []byte(certPEM)},
		{"signature_data", "signature.dat", signature},
		{"signature_box", "boxes.json", boxesJSON},
	}
	for _, p := range parts {
		part, err := writer.CreateFormFile(p.field, p.name)
		if err != nil {
			return nil, errs.ExternalService("failed to build render request", err)
		}
		if _, err := part.Write(p.data); err != nil {
			return nil, errs.ExternalService("failed to build render request", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errs.ExternalService("failed to build render request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return nil, errs.ExternalService("failed to build render request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errs.ExternalService("rendering service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.logger.Error("rendering service returned error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail))
		return nil, errs.ExternalService(
			fmt.Sprintf("rendering service returned %d", resp.StatusCode), nil)
	}

	signed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.ExternalService("failed to read rendered document", err)
	}
	return signed, nil
}
