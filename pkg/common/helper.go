package common

import (
	"errors"
	"runtime/debug"

	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody 出错时的统一返回格式，内部错误不跨 API 边界透出
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

type ErrorInfo struct {
	Kind    xerr.Kind `json:"kind"`
	Message string    `json:"message"`
}

// OK 成功直接回业务结构体，不套壳（前端按各自 shape 消费）
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

// Fail 按 Kind 映射状态码，message 用安全文案
func Fail(c *gin.Context, kind xerr.Kind, msg string) {
	c.JSON(xerr.HTTPStatus(kind), ErrorBody{Error: ErrorInfo{Kind: kind, Message: msg}})
}

// FailErr 从错误链提取 Kind 并记日志
// 只有 KindError 的文案可以透出，其余一律 internal error
func FailErr(c *gin.Context, err error) {
	kind := xerr.KindOf(err)
	msg := "internal error"
	var ke *xerr.KindError
	if errors.As(err, &ke) && kind != xerr.KindInternal {
		msg = ke.Msg
	}
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	Fail(c, kind, msg)
}

// FailPanic panic 恢复路径专用，附带堆栈
func FailPanic(c *gin.Context, recovered interface{}) {
	logger.Error(c, "http panic",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered),
		zap.ByteString("stack", debug.Stack()),
	)
	Fail(c, xerr.KindInternal, "internal error")
}
