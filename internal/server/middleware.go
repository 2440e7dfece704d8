package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waplink/internal/tenantctx"
)

const (
	headerTenantID   = "X-Tenant-ID"
	headerTenantRole = "X-Tenant-Role"
)

// TenantRequired resolves the caller's tenant scope from gateway-set
// headers. Admin callers get a privileged scope; everyone else must
// present a valid tenant id.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(headerTenantRole)))
		raw := c.GetHeader(headerTenantID)

		scope := tenantctx.Scope{Privileged: role == "admin"}
		if raw != "" {
			tenantID, ok := tenantctx.ParseTenantID(raw)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized", "message": "invalid tenant id",
				})
				return
			}
			scope.TenantID = tenantID
		}
		if !scope.Privileged && scope.TenantID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized", "message": "missing tenant id",
			})
			return
		}

		c.Request = c.Request.WithContext(tenantctx.WithScope(c.Request.Context(), scope))
		c.Next()
	}
}
