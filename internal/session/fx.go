package session

import (
	"github.com/smallbiznis/waplink/internal/session/repository"
	"github.com/smallbiznis/waplink/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
