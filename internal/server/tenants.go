package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waplink/internal/session/domain"
	tenantdomain "github.com/smallbiznis/waplink/internal/tenant/domain"
	"github.com/smallbiznis/waplink/internal/tenantctx"
)

func (s *Server) registerTenantRoutes(engine *gin.Engine) {
	api := engine.Group("/api", TenantRequired())
	api.POST("/tenants", s.CreateTenant)
	api.GET("/tenants/:id", s.GetTenant)
}

type createTenantRequest struct {
	Name        string `json:"name"`
	MaxSessions int    `json:"max_sessions"`
}

func (s *Server) CreateTenant(c *gin.Context) {
	scope, ok := tenantctx.FromContext(c.Request.Context())
	if !ok || !scope.Privileged {
		AbortWithError(c, domain.ErrForbidden)
		return
	}

	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.MaxSessions < 0 {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}

	tenant := &tenantdomain.Tenant{
		ID:          s.node.Generate(),
		Name:        req.Name,
		MaxSessions: req.MaxSessions,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.tenants.Create(c.Request.Context(), s.db, tenant); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

func (s *Server) GetTenant(c *gin.Context) {
	scope, ok := tenantctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, domain.ErrForbidden)
		return
	}

	id, valid := tenantctx.ParseTenantID(c.Param("id"))
	if !valid {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}
	if !scope.CanAccess(id) {
		AbortWithError(c, domain.ErrNotFound)
		return
	}

	tenant, err := s.tenants.FindByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tenant == nil {
		AbortWithError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, tenant)
}
