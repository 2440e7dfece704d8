package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Tenant struct {
	ID   snowflake.ID `json:"id" gorm:"primaryKey"`
	Name string       `json:"name" gorm:"type:text;not null"`

	// MaxSessions caps concurrent connections for this tenant; zero
	// falls back to the system-wide default.
	MaxSessions int `json:"max_sessions" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	Create(ctx context.Context, db *gorm.DB, tenant *Tenant) error
}
