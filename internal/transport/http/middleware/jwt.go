package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zenocloud/internal/pkg/jwtutil"
	"zenocloud/internal/transport/http/response"
)

const (
	ContextClaimsKey   = "claims"
	ContextTenantIDKey = "tenant_id"
)

// AuthJWT verifies the bearer token and puts its claims on the context.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			return
		}

		claims, err := jwtutil.ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextTenantIDKey, claims.TenantID)
		c.Next()
	}
}
