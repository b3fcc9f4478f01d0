package middleware

import (
	"dexvault.com/pkg/common"
	"github.com/gin-gonic/gin"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				common.FailPanic(c, err)
				c.Abort()
			}
		}()
		c.Next()
	}
}
