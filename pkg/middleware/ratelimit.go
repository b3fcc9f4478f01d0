package middleware

import (
	"net/http"

	"dexvault.com/pkg/common"
	"dexvault.com/pkg/metrics"
	"dexvault.com/pkg/ratelimit"
	"dexvault.com/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端 IP 限流，挡住脚本轮询把查询接口打爆
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !store.Allow(key) {
			metrics.RateLimitBlockTotal.WithLabelValues("escrow-service", c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, common.ErrorBody{
				Error: common.ErrorInfo{Kind: xerr.KindValidation, Message: "too many requests"},
			})
			return
		}
		c.Next()
	}
}
