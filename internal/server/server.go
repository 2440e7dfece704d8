package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/waplink/internal/clock"
	"github.com/smallbiznis/waplink/internal/config"
	sessiondomain "github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/smallbiznis/waplink/internal/settings"
	tenantdomain "github.com/smallbiznis/waplink/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	engine   *gin.Engine
	log      *zap.Logger
	cfg      config.Config
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	sessions sessiondomain.Service
	settings settings.Service
	tenants  tenantdomain.Repository

	httpServer *http.Server
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Sessions sessiondomain.Service
	Settings settings.Service
	Tenants  tenantdomain.Repository
}

func New(p Params) *Server {
	if p.Cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		log:      p.Log.Named("server"),
		cfg:      p.Cfg,
		db:       p.DB,
		node:     p.Node,
		clock:    p.Clock,
		sessions: p.Sessions,
		settings: p.Settings,
		tenants:  p.Tenants,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ErrorHandlingMiddleware(s.log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": p.Cfg.AppVersion})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.registerChannelRoutes(engine)
	s.registerProviderRoutes(engine)
	s.registerTenantRoutes(engine)

	s.engine = engine
	return s
}

func (s *Server) registerChannelRoutes(engine *gin.Engine) {
	// Gateway callbacks authenticate by signature, not tenant headers.
	engine.POST("/api/channels/:name/webhook", s.HandleChannelWebhook)

	api := engine.Group("/api", TenantRequired())
	{
		api.GET("/channels", s.ListChannels)
		api.POST("/channels", s.CreateChannel)
		api.GET("/channels/sync", s.SyncChannels)
		api.GET("/channels/:name", s.GetChannelStatus)
		api.POST("/channels/:name/start", s.StartChannel)
		api.POST("/channels/:name/stop", s.StopChannel)
		api.POST("/channels/:name/restart", s.RestartChannel)
		api.DELETE("/channels/:name", s.DeleteChannel)
		api.POST("/channels/:name/assign", s.AssignChannel)
	}
}

func (s *Server) registerProviderRoutes(engine *gin.Engine) {
	api := engine.Group("/api", TenantRequired())
	api.PUT("/providers/:provider", s.UpdateProviderSettings)
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) run() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

var Module = fx.Module("server",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := s.run(); err != nil {
						s.log.Error("http server stopped", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: s.shutdown,
		})
	}),
)
