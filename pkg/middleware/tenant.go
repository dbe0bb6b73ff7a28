package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// TenantIDHeader carries the calling tenant on every API request.
	TenantIDHeader = "X-Tenant-ID"
	// TenantIDKey is the gin context key for the resolved tenant.
	TenantIDKey = "tenant_id"
	// DefaultTenant is assumed when the header is absent.
	DefaultTenant = "default"
)

// Tenant resolves the calling tenant from the X-Tenant-ID header, falling
// back to the default tenant. Handlers read it with GetTenantID and thread it
// explicitly into service calls.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(TenantIDHeader))
		if tenantID == "" {
			tenantID = DefaultTenant
		}
		c.Set(TenantIDKey, tenantID)
		c.Next()
	}
}

// GetTenantID extracts the resolved tenant from the gin context.
func GetTenantID(c *gin.Context) string {
	if id, exists := c.Get(TenantIDKey); exists {
		if tenantID, ok := id.(string); ok && tenantID != "" {
			return tenantID
		}
	}
	return DefaultTenant
}
