package migration

import (
	sessiondomain "github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/smallbiznis/waplink/internal/settings"
	tenantdomain "github.com/smallbiznis/waplink/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&tenantdomain.Tenant{},
		&sessiondomain.Session{},
		&settings.ProviderSetting{},
	)
}

var Module = fx.Module("migration",
	fx.Invoke(AutoMigrate),
)
