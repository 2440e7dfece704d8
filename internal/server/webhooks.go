package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waplink/internal/webhook"
	"go.uber.org/zap"
)

// HandleChannelWebhook receives gateway callbacks for one channel. The
// signature covers the raw body; any failure gets the same generic 401
// so probing reveals nothing about which sessions exist.
func (s *Server) HandleChannelWebhook(c *gin.Context) {
	name := c.Param("name")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	signature := c.GetHeader(webhook.SignatureHeader)
	if err := s.sessions.VerifyWebhook(c.Request.Context(), name, signature, body); err != nil {
		s.log.Debug("webhook rejected", zap.String("session", name))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Connection state is owned by the reconciliation loop; callbacks
	// are accepted for downstream consumers but never mutate it.
	s.log.Info("webhook accepted", zap.String("session", name), zap.Int("bytes", len(body)))
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
