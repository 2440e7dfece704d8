package provider

import (
	"github.com/smallbiznis/waplink/internal/provider/adapters"
	"github.com/smallbiznis/waplink/internal/provider/adapters/evolution"
	"github.com/smallbiznis/waplink/internal/provider/adapters/waha"
	"github.com/smallbiznis/waplink/internal/provider/adapters/wppconnect"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.adapters",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			waha.NewFactory(),
			evolution.NewFactory(),
			wppconnect.NewFactory(),
		)
	}),
)
