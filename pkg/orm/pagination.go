package orm

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ClampLimit 游标分页的每页条数兜底
// limit <= 0 用默认值，超过上限截断，防止一把捞全表
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
