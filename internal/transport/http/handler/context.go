package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"zenocloud/internal/app"
	"zenocloud/internal/pkg/jwtutil"
	"zenocloud/internal/transport/http/middleware"
)

func callerFromContext(c *gin.Context) (app.Caller, bool) {
	v, ok := c.Get(middleware.ContextClaimsKey)
	if !ok {
		return app.Caller{}, false
	}
	claims, ok := v.(*jwtutil.Claims)
	if !ok || claims.UserID == 0 || claims.TenantID == 0 {
		return app.Caller{}, false
	}
	return app.Caller{UserID: claims.UserID, TenantID: claims.TenantID, Root: claims.IsRoot()}, true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	u, err := strconv.ParseUint(c.Param(key), 10, 64)
	return uint(u), err
}
