package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, session *Session) error
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Session, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Session, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Session, error)
	ExistsDisplayName(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, displayName string) (bool, error)

	// Merge applies a field-level partial update. It returns false when
	// the session no longer exists, so a reconciliation result is never
	// applied to a record deleted mid-flight.
	Merge(ctx context.Context, db *gorm.DB, name string, patch Patch) (bool, error)

	Delete(ctx context.Context, db *gorm.DB, name string) error
	CountByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
}
