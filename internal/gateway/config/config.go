package config

import "time"

// EscrowConfig escrow-service 的完整配置
// 用 viper 加载，支持热更新和环境变量覆盖 (前缀 ESCROW_)
type EscrowConfig struct {
	Name string `mapstructure:"name"`
	Log  struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	MySQL struct {
		DSN         string        `mapstructure:"dsn"`
		MaxIdle     int           `mapstructure:"max_idle"`
		MaxOpen     int           `mapstructure:"max_open"`
		MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Chain struct {
		Endpoint       string        `mapstructure:"endpoint"`
		Interval       time.Duration `mapstructure:"interval"`
		BackoffBase    time.Duration `mapstructure:"backoff_base"`
		BackoffMax     time.Duration `mapstructure:"backoff_max"`
		MaxRetries     int           `mapstructure:"max_retries"`
		ConsumerCount  int           `mapstructure:"consumer_count"`
		LockTTL        time.Duration `mapstructure:"lock_ttl"`
		RelistInterval time.Duration `mapstructure:"relist_interval"`
	} `mapstructure:"chain"`
	Cache struct {
		BalanceTTL time.Duration `mapstructure:"balance_ttl"`
	} `mapstructure:"cache"`
	RateLimit struct {
		QPS   float64 `mapstructure:"qps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
	Trace struct {
		Host string `mapstructure:"host"`
	} `mapstructure:"trace"`
}
