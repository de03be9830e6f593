package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

type resetRepository struct {
	db *gorm.DB
}

func (r *resetRepository) CreatePasswordResetToken(ctx context.Context, accountID uuid.UUID, tokenHash string, createdAt, expiresAt time.Time) error {
	rec := passwordResetTokenModel{
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	return translateError("create reset token", r.db.WithContext(ctx).Create(&rec).Error)
}

// ConsumePasswordResetToken marks a live token used; a token works once.
func (r *resetRepository) ConsumePasswordResetToken(ctx context.Context, tokenHash string, usedAt time.Time) (uuid.UUID, error) {
	var rec passwordResetTokenModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", tokenHash).
			Where("used_at IS NULL").
			Where("expires_at > ?", usedAt).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return tx.Model(&passwordResetTokenModel{}).
			Where("token_id = ?", rec.TokenID).
			Update("used_at", usedAt).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.Nil, err
		}
		return uuid.Nil, translateError("consume reset token", err)
	}
	return rec.AccountID, nil
}
