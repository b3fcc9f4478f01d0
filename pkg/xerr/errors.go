package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类，和 API 返回的 error.kind 字段一一对应
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"          // 未知的 campaign / 记录不存在
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE" // 链上数据源不可用 (只在后台消化，不透传给查询方)
	KindInconsistent      Kind = "INCONSISTENT_LEDGER" // 派生余额为负等账本矛盾
	KindValidation        Kind = "VALIDATION_ERROR"   // 请求参数非法
	KindInternal          Kind = "INTERNAL"           // 其他服务端错误
)

type KindError struct {
	Kind Kind   `json:"kind"`
	Msg  string `json:"message"`
	err  error  // 可选的底层错误
}

func (e *KindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindError) Unwrap() error { return e.err }

func New(kind Kind, msg string) error {
	return &KindError{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层错误链，errors.Is/As 仍然可用
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Msg: msg, err: err}
}

// KindOf 从错误链中提取分类，提不出来一律算 INTERNAL
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus 分类到 HTTP 状态码的映射
// SOURCE_UNAVAILABLE 不应该走到这里（查询路径用最后已知状态兜底），
// 万一走到了按 503 处理
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindSourceUnavailable:
		return http.StatusServiceUnavailable
	case KindInconsistent:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
