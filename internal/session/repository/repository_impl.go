package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, session *domain.Session) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Session, error) {
	var session domain.Session
	err := db.WithContext(ctx).Where("name = ?", name).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Session, error) {
	var sessions []domain.Session
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Session, error) {
	var sessions []domain.Session
	err := db.WithContext(ctx).Order("created_at ASC").Find(&sessions).Error
	return sessions, err
}

func (r *repo) ExistsDisplayName(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, displayName string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Session{}).
		Where("tenant_id = ? AND display_name = ?", tenantID, displayName).
		Count(&count).Error
	return count > 0, err
}

// Merge writes only the columns the patch names. Fields absent from the
// patch never appear in the UPDATE, so a reconciliation result cannot
// wipe values it did not observe.
func (r *repo) Merge(ctx context.Context, db *gorm.DB, name string, patch domain.Patch) (bool, error) {
	values := map[string]any{}

	if patch.Status != nil {
		values["status"] = *patch.Status
	}
	if patch.Identity != nil {
		values["me_id"] = patch.Identity.ID
		values["me_push_name"] = patch.Identity.PushName
	} else if patch.ClearIdentity {
		values["me_id"] = ""
		values["me_push_name"] = ""
	}
	if patch.PairingData != nil {
		values["pairing_data"] = *patch.PairingData
	}
	if patch.PairingExpiresAt != nil {
		values["pairing_expires_at"] = *patch.PairingExpiresAt
	}
	if patch.ClearPairing {
		values["pairing_data"] = ""
		values["pairing_expires_at"] = nil
	}
	if patch.ExternalToken != nil {
		values["external_token"] = *patch.ExternalToken
	}
	if patch.WebhookRegisteredAt != nil {
		values["webhook_registered_at"] = *patch.WebhookRegisteredAt
	}
	if patch.TenantID != nil {
		values["tenant_id"] = *patch.TenantID
	}

	if len(values) == 0 {
		var count int64
		err := db.WithContext(ctx).Model(&domain.Session{}).
			Where("name = ?", name).Count(&count).Error
		return count > 0, err
	}

	values["updated_at"] = time.Now().UTC()

	result := db.WithContext(ctx).Model(&domain.Session{}).
		Where("name = ?", name).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, name string) error {
	return db.WithContext(ctx).Where("name = ?", name).Delete(&domain.Session{}).Error
}

func (r *repo) CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Session{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}
