package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/smallbiznis/waplink/internal/tenantctx"
)

// ListChannels is the cheap registry read; no gateway traffic.
func (s *Server) ListChannels(c *gin.Context) {
	views, err := s.sessions.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

// SyncChannels reconciles every visible channel against its gateway
// before answering.
func (s *Server) SyncChannels(c *gin.Context) {
	views, err := s.sessions.Sync(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

func (s *Server) CreateChannel(c *gin.Context) {
	var req domain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}

	view, err := s.sessions.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) GetChannelStatus(c *gin.Context) {
	view, err := s.sessions.GetStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) StartChannel(c *gin.Context) {
	view, err := s.sessions.Start(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) StopChannel(c *gin.Context) {
	view, err := s.sessions.Stop(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) RestartChannel(c *gin.Context) {
	view, err := s.sessions.Restart(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) DeleteChannel(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("name")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRequest struct {
	TenantID snowflake.ID `json:"tenant_id"`
}

func (s *Server) AssignChannel(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}

	view, err := s.sessions.Assign(c.Request.Context(), c.Param("name"), req.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type providerSettingsRequest struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// UpdateProviderSettings replaces one gateway's credentials. Privileged
// callers only; the snapshot is invalidated so the next resolution
// reads the new values.
func (s *Server) UpdateProviderSettings(c *gin.Context) {
	scope, ok := tenantctx.FromContext(c.Request.Context())
	if !ok || !scope.Privileged {
		AbortWithError(c, domain.ErrForbidden)
		return
	}

	var req providerSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidRequest)
		return
	}

	if err := s.settings.Update(c.Request.Context(), c.Param("provider"), req.BaseURL, req.APIKey); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
