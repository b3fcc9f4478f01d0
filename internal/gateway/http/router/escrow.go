package router

import (
	"dexvault.com/internal/gateway/handler"
	"github.com/gin-gonic/gin"
)

func Escrow(api *gin.RouterGroup, escrow *handler.EscrowHandler, health *handler.HealthHandler) {
	api.GET("/health", health.Health)
	api.GET("/campaign-detail/:campaign_id", escrow.CampaignDetail)
	api.GET("/escrow-transactions/:wallet", escrow.Transactions)
	api.GET("/escrow-balance", escrow.Balance)
}
