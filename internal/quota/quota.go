package quota

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waplink/internal/config"
	sessiondomain "github.com/smallbiznis/waplink/internal/session/domain"
	tenantdomain "github.com/smallbiznis/waplink/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Gate enforces the per-tenant connection ceiling. The limit comes
// from the tenant record when set, falling back to the global default.
type Gate struct {
	db       *gorm.DB
	cfg      config.Config
	tenants  tenantdomain.Repository
	sessions sessiondomain.Repository
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Config   config.Config
	Tenants  tenantdomain.Repository
	Sessions sessiondomain.Repository
}

func NewGate(p Params) *Gate {
	return &Gate{db: p.DB, cfg: p.Config, tenants: p.Tenants, sessions: p.Sessions}
}

func (g *Gate) Check(ctx context.Context, tenantID snowflake.ID) error {
	max := g.cfg.TenantMaxSessions
	tenant, err := g.tenants.FindByID(ctx, g.db, tenantID)
	if err != nil {
		return err
	}
	if tenant != nil && tenant.MaxSessions > 0 {
		max = tenant.MaxSessions
	}
	if max <= 0 {
		return nil
	}

	current, err := g.sessions.CountByTenant(ctx, g.db, tenantID)
	if err != nil {
		return err
	}
	if current >= int64(max) {
		return fmt.Errorf("%w: %d/%d sessions in use", sessiondomain.ErrQuotaExceeded, current, max)
	}
	return nil
}

var Module = fx.Module("quota",
	fx.Provide(
		NewGate,
		func(g *Gate) sessiondomain.QuotaGate { return g },
	),
)
