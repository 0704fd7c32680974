package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
	"github.com/frfusch21/digital-signer-app/internal/errs"
)

// BoxDraft is a placement submitted while a document is in draft.
type BoxDraft struct {
	ID        uint                    `json:"id"`
	UserID    uint                    `json:"user_id"`
	Page      int                     `json:"page"`
	RelX      float64                 `json:"rel_x"`
	RelY      float64                 `json:"rel_y"`
	RelWidth  float64                 `json:"rel_width"`
	RelHeight float64                 `json:"rel_height"`
	Type      models.SignatureBoxType `json:"type"`
}

// SaveDraftBoxes replaces the owner's box layout for a draft document.
// Boxes are created or repositioned with empty content and pending
// status; content only ever arrives through a completed signing.
func (ss *SigningService) SaveDraftBoxes(ctx context.Context, documentID string, ownerID uint, drafts []BoxDraft) error {
	doc, err := ss.encryption.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != ownerID {
		return errs.Authorization("only the owner may edit signature boxes")
	}
	if doc.Status != models.StatusDraft {
		return errs.Validation("document is no longer in draft")
	}

	for _, d := range drafts {
		if d.Page < 1 {
			return errs.Validation("signature box page must be >= 1")
		}
		if !relValid(d.RelX) || !relValid(d.RelY) || !relValid(d.RelWidth) || !relValid(d.RelHeight) {
			return errs.Validation("signature box coordinates must be within [0,1]")
		}
		if d.Type != models.BoxTyped && d.Type != models.BoxDrawn {
			return errs.Validation("signature box type must be typed or drawn")
		}
	}

	return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keep := make([]uint, 0, len(drafts))
		for _, d := range drafts {
			if d.ID != 0 {
				result := tx.Model(&models.SignatureBox{}).
					Where("id = ? AND document_id = ?", d.ID, documentID).
					Updates(map[string]interface{}{
						"user_id":    d.UserID,
						"page":       d.Page,
						"rel_x":      d.RelX,
						"rel_y":      d.RelY,
						"rel_width":  d.RelWidth,
						"rel_height": d.RelHeight,
						"type":       d.Type,
						"status":     models.BoxPending,
					})
				if result.Error != nil {
					return result.Error
				}
				if result.RowsAffected == 0 {
					return ErrBoxNotFound
				}
				keep = append(keep, d.ID)
				continue
			}

			box := &models.SignatureBox{
				DocumentID: documentID,
				UserID:     d.UserID,
				Page:       d.Page,
				RelX:       d.RelX,
				RelY:       d.RelY,
				RelWidth:   d.RelWidth,
				RelHeight:  d.RelHeight,
				Type:       d.Type,
				Status:     models.BoxPending,
			}
			if err := tx.Create(box).Error; err != nil {
				return err
			}
			keep = append(keep, box.ID)
		}

		// Boxes dropped from the layout are deleted, owner-only and
		// draft-only by the checks above.
		del := tx.Where("document_id = ?", documentID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		return del.Delete(&models.SignatureBox{}).Error
	})
}

// ListBoxes returns all boxes on a document for a caller with a grant.
func (ss *SigningService) ListBoxes(ctx context.Context, documentID string, userID uint) ([]models.SignatureBox, error) {
	if _, err := ss.encryption.access.GrantFor(ctx, documentID, userID); err != nil {
		return nil, err
	}
	var boxes []models.SignatureBox
	if err := ss.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("page ASC, id ASC").
		Find(&boxes).Error; err != nil {
		return nil, err
	}
	return boxes, nil
}

// DeleteBox removes one box; owner-only, draft-only.
func (ss *SigningService) DeleteBox(ctx context.Context, documentID string, boxID, ownerID uint) error {
	doc, err := ss.encryption.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != ownerID {
		return errs.Authorization("only the owner may delete signature boxes")
	}
	if doc.Status != models.StatusDraft {
		return errs.Validation("document is no longer in draft")
	}

	result := ss.db.WithContext(ctx).
		Where("id = ? AND document_id = ?", boxID, documentID).
		Delete(&models.SignatureBox{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBoxNotFound
	}

	ss.logger.Info("Signature box deleted",
		zap.String("document_id", documentID),
		zap.Uint("box_id", boxID))
	return nil
}

func relValid(v float64) bool { return v >= 0 && v <= 1 }
