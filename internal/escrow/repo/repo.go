package repo

import (
	"context"

	"dexvault.com/internal/escrow/domain"
	"gorm.io/gorm"
)

type txKey struct{}

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate 建表，启动时调一次
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.EscrowTx{}, &domain.Campaign{})
}

// Transaction 开启事务，事务句柄塞进 ctx，内部方法用 getDb 取
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// getDb 优先取 ctx 中的事务句柄，没有就用裸连接
func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db
}

// Ping 健康检查用
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
