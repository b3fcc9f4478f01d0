package domain

import "time"

// 摄入刷新的配置
type WatchConfig struct {
	Interval       time.Duration // 拉取间隔
	BackoffBase    time.Duration // 退避起步
	BackoffMax     time.Duration // 退避上限，封顶后只降级不再加码
	MaxRetries     int           // 连续失败多少次后标记降级（仍按上限间隔慢速重试）
	ConsumerCount  int           // 消费协程数量
	LockTTL        time.Duration // 每个 (wallet, campaign) 的 master 锁
	RelistInterval time.Duration // 重读 active 活动集合的间隔
}

const (
	StreamIngestKey = "stream:escrow_ingest"
	GroupName       = "stream:group_ingest_workers"
)
