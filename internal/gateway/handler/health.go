package handler

import (
	"context"
	"time"

	"dexvault.com/internal/watcher/scanner"
	"dexvault.com/pkg/common"
	"github.com/gin-gonic/gin"
)

// Pinger 账本存储连通性探测
type Pinger interface {
	Ping(ctx context.Context) error
}

// SourceProbe 链上数据源连通性探测
type SourceProbe interface {
	Healthy(ctx context.Context) error
}

// IngestStatus 摄入引擎状态快照
type IngestStatus interface {
	Status() scanner.Status
}

// InconsistentCounter 当前处于账本矛盾状态的 key 数
type InconsistentCounter interface {
	InconsistentCount() int
}

// HealthHandler 健康检查，降级只体现在 body 里，永不 5xx
// 监控探针拿 200 + status 字段判断，数据源抖动不该触发探针重启
type HealthHandler struct {
	ledger    Pinger
	source    SourceProbe
	ingest    IngestStatus
	projector InconsistentCounter
}

func NewHealthHandler(ledger Pinger, source SourceProbe, ingest IngestStatus, projector InconsistentCounter) *HealthHandler {
	return &HealthHandler{ledger: ledger, source: source, ingest: ingest, projector: projector}
}

type healthResp struct {
	Status           string          `json:"status"` // ok / degraded
	LedgerOK         bool            `json:"ledger_ok"`
	AdapterOK        bool            `json:"adapter_ok"`
	InconsistentKeys int             `json:"inconsistent_keys"`
	Ingest           *scanner.Status `json:"ingest,omitempty"`
}

// Health GET /api/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResp{Status: "ok", LedgerOK: true, AdapterOK: true}

	if err := h.ledger.Ping(ctx); err != nil {
		resp.LedgerOK = false
		resp.Status = "degraded"
	}
	if h.source != nil {
		if err := h.source.Healthy(ctx); err != nil {
			resp.AdapterOK = false
			resp.Status = "degraded"
		}
	}
	if h.ingest != nil {
		st := h.ingest.Status()
		resp.Ingest = &st
		if !st.OK {
			resp.Status = "degraded"
		}
	}
	if h.projector != nil {
		resp.InconsistentKeys = h.projector.InconsistentCount()
		if resp.InconsistentKeys > 0 {
			resp.Status = "degraded"
		}
	}
	common.OK(c, resp)
}
