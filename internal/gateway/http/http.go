package http

import (
	"net/http"
	"time"

	"dexvault.com/internal/gateway/handler"
	"dexvault.com/internal/gateway/http/router"
	middleware2 "dexvault.com/pkg/middleware"
	"dexvault.com/pkg/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// NewServer 组装查询面 HTTP 服务
// 查询接口全部只读，CORS 放开给本地前端联调用
func NewServer(addr string, store *ratelimit.Store,
	escrow *handler.EscrowHandler, health *handler.HealthHandler) *http.Server {
	r := gin.New()
	// 监控
	p := ginprom.NewPrometheus("dexvault")
	p.Use(r)
	r.Use(
		otelgin.Middleware("escrow-service"),
		middleware2.ReqId(),
		cors.Default(),
		middleware2.Recover(),
		middleware2.RateLimit(store),
	)
	api := r.Group("/api")
	router.Escrow(api, escrow, health)
	s := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// NewStore 按配置建限流桶，零值兜底
func NewStore(qps float64, burst int) *ratelimit.Store {
	if qps <= 0 {
		qps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return ratelimit.NewStore(rate.Limit(qps), burst, 10*time.Minute)
}
