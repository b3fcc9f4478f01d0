package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	escrowdomain "dexvault.com/internal/escrow/domain"
	escrowservice "dexvault.com/internal/escrow/service"
	"dexvault.com/internal/watcher/domain"
	"dexvault.com/pkg/logger"
	"dexvault.com/pkg/metrics"
	"dexvault.com/pkg/safe"
	"dexvault.com/pkg/xerr"
	"dexvault.com/pkg/xredis"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type pullResult struct {
	transfers []*domain.RawTransfer
	cursor    string
}

// CampaignStatus 单个活动的摄入状态
type CampaignStatus struct {
	LastPullAt time.Time `json:"last_pull_at"`
	Failures   int       `json:"failures"`
	Degraded   bool      `json:"degraded"`
}

// Status 健康检查端点消费的快照
type Status struct {
	OK        bool                      `json:"ok"`
	LastError string                    `json:"last_error,omitempty"`
	Campaigns map[string]CampaignStatus `json:"campaigns"`
}

// Engine 后台摄入刷新引擎
// 每个活动一个 master 协程定时拉链上数据，归一化后推进 redis stream；
// worker 协程消费 stream 走账本的幂等 append；ack 协程确认消费。
// master 集合定期和 active 活动对齐，新活动不用重启进程就进监控。
// 和查询路径完全解耦：数据源挂了只影响新鲜度，不影响查询延迟。
type Engine struct {
	cfg     *domain.WatchConfig
	rds     *redis.Client
	source  domain.ChainSource
	cursors domain.CursorRepo
	lister  domain.CampaignLister
	ledger  *escrowservice.LedgerService
	breaker *gobreaker.CircuitBreaker[*pullResult]

	appendChan chan *escrowdomain.EscrowTx // stream消费 -> 账本写入
	ackChan    chan string                 // 账本写入成功 -> XAck

	msgIDs sync.Map // tx签名 -> stream msg id，append 成功后找回去 ack

	mu        sync.Mutex
	campaigns map[string]*CampaignStatus
	lastError string
}

func NewEngine(cfg *domain.WatchConfig, rds *redis.Client, source domain.ChainSource,
	cursors domain.CursorRepo, lister domain.CampaignLister, ledger *escrowservice.LedgerService) *Engine {
	cb := gobreaker.NewCircuitBreaker[*pullResult](gobreaker.Settings{
		Name:        "chain-source",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Engine{
		cfg:        cfg,
		rds:        rds,
		source:     source,
		cursors:    cursors,
		lister:     lister,
		ledger:     ledger,
		breaker:    cb,
		appendChan: make(chan *escrowdomain.EscrowTx, 100),
		ackChan:    make(chan string, 100),
		campaigns:  make(map[string]*CampaignStatus),
	}
}

// Start 启动引擎，阻塞到 ctx 取消，所有协程收尾后返回
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup

	logger.Info(ctx, "启动摄入引擎", zap.Int("worker_count", e.cfg.ConsumerCount))
	for i := 0; i < e.cfg.ConsumerCount; i++ {
		i := i
		wg.Add(1)
		safe.GoCtx(ctx, func(c2 context.Context) {
			defer wg.Done()
			e.worker(c2, i)
		})
	}

	for i := 0; i < e.cfg.ConsumerCount; i++ {
		i := i
		wg.Add(1)
		safe.GoCtx(ctx, func(c2 context.Context) {
			defer wg.Done()
			e.appendHandler(c2, i)
		})
	}

	wg.Add(1)
	safe.GoCtx(ctx, func(c2 context.Context) {
		defer wg.Done()
		e.acker(c2)
	})

	// master 集合跟着 active 活动走，启动先对齐一次
	masters := make(map[string]context.CancelFunc)
	e.syncMasters(ctx, &wg, masters)

	ticker := time.NewTicker(e.cfg.RelistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "收到停止信号，等待摄入任务收尾 (Graceful Shutdown)")
			wg.Wait()
			logger.Info(ctx, "摄入引擎已退出")
			return
		case <-ticker.C:
			e.syncMasters(ctx, &wg, masters)
		}
	}
}

// syncMasters 对齐 master 集合和数据库里的 active 活动
// 列表读失败就沿用上一轮集合，已有的 master 照常跑
func (e *Engine) syncMasters(ctx context.Context, wg *sync.WaitGroup, masters map[string]context.CancelFunc) {
	campaigns, err := e.lister.ListActive(ctx)
	if err != nil {
		logger.Error(ctx, "读取 active 活动失败，沿用上一轮集合", zap.Error(err))
		return
	}

	active := make(map[string]struct{}, len(campaigns))
	for _, c := range campaigns {
		active[c.CampaignID] = struct{}{}
		if _, ok := masters[c.CampaignID]; ok {
			continue
		}
		c := c
		mctx, cancel := context.WithCancel(ctx)
		masters[c.CampaignID] = cancel
		e.trackCampaign(c.CampaignID)
		wg.Add(1)
		safe.GoCtx(mctx, func(c2 context.Context) {
			defer wg.Done()
			e.master(c2, c)
		})
		logger.Info(ctx, "master 上线",
			zap.String("campaign", c.CampaignID),
			zap.String("wallet", c.EscrowWallet),
		)
	}

	for id, cancel := range masters {
		if _, ok := active[id]; !ok {
			cancel()
			delete(masters, id)
			e.untrackCampaign(id)
			logger.Info(ctx, "活动已关停，master 下线", zap.String("campaign", id))
		}
	}
}

// master 单个活动的定时拉取循环，带封顶指数退避
// 多副本场景用 redis 锁保证同一个 key 只有一个 master 在拉
func (e *Engine) master(ctx context.Context, campaign *escrowdomain.Campaign) {
	wallet := campaign.EscrowWallet
	logger.Info(ctx, "master 启动",
		zap.String("campaign", campaign.CampaignID),
		zap.String("wallet", wallet),
	)

	var (
		cursor       string
		cursorLoaded bool
	)
	failures := 0
	delay := e.cfg.Interval
	lock := xredis.NewLock(e.rds, fmt.Sprintf("lock:ingest:%s:%s", wallet, campaign.CampaignID), e.cfg.LockTTL)

	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// 游标读不出来照样走退避，活动留在降级名单里，绝不直接退出把它丢掉
		if !cursorLoaded {
			c, err := e.cursors.GetLastCursor(ctx, wallet, campaign.CampaignID)
			if err != nil {
				failures++
				metrics.SourceErrorTotal.WithLabelValues("cursor").Inc()
				delay = e.backoff(failures)
				degraded := failures >= e.cfg.MaxRetries
				e.setCampaignStatus(campaign.CampaignID, time.Time{}, failures, degraded, err)
				logger.Warn(ctx, "读取游标失败，退避重试",
					zap.Error(err),
					zap.String("campaign", campaign.CampaignID),
					zap.Int("failures", failures),
					zap.Duration("next_delay", delay),
					zap.Bool("degraded", degraded),
				)
				continue
			}
			cursor = c
			cursorLoaded = true
		}

		ok, err := lock.TryLock(ctx)
		if err != nil || !ok {
			// 别的副本在拉，这轮跳过
			delay = e.cfg.Interval
			continue
		}

		newCursor, err := e.pullOnce(ctx, campaign, cursor)
		_ = lock.Unlock(ctx)

		if err != nil {
			failures++
			metrics.SourceErrorTotal.WithLabelValues("pull").Inc()
			delay = e.backoff(failures)
			degraded := failures >= e.cfg.MaxRetries
			e.setCampaignStatus(campaign.CampaignID, time.Time{}, failures, degraded, err)
			logger.Warn(ctx, "拉取链上数据失败，退避重试",
				zap.Error(err),
				zap.String("campaign", campaign.CampaignID),
				zap.Int("failures", failures),
				zap.Duration("next_delay", delay),
				zap.Bool("degraded", degraded),
			)
			continue
		}

		failures = 0
		delay = e.cfg.Interval
		cursor = newCursor
		e.setCampaignStatus(campaign.CampaignID, time.Now().UTC(), 0, false, nil)
	}
}

// backoff 指数退避，封顶后停在上限慢速重试，不做无限紧循环
func (e *Engine) backoff(failures int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= e.cfg.BackoffMax {
			return e.cfg.BackoffMax
		}
	}
	if d > e.cfg.BackoffMax {
		return e.cfg.BackoffMax
	}
	return d
}

// pullOnce 拉一轮：数据源 -> 归一化 -> redis stream -> 游标推进
// 数据源调用套了熔断器，连续失败时直接快速失败，不打爆退避窗口
func (e *Engine) pullOnce(ctx context.Context, campaign *escrowdomain.Campaign, cursor string) (string, error) {
	res, err := e.breaker.Execute(func() (*pullResult, error) {
		transfers, next, err := e.source.Pull(ctx, campaign.EscrowWallet, cursor)
		if err != nil {
			return nil, err
		}
		return &pullResult{transfers: transfers, cursor: next}, nil
	})
	if err != nil {
		return cursor, xerr.Wrap(err, xerr.KindSourceUnavailable, "pull chain source")
	}

	if len(res.transfers) == 0 {
		return res.cursor, nil
	}

	// 状态升级也走同一条 Normalize+Append 路径，账本变更逻辑只有一个入口
	pipe := e.rds.Pipeline()
	for _, raw := range res.transfers {
		tx := domain.Normalize(raw, campaign)
		metrics.IngestedTransfersTotal.WithLabelValues(campaign.CampaignID, tx.Direction.String()).Inc()
		b, err := json.Marshal(tx)
		if err != nil {
			return cursor, fmt.Errorf("marshal escrow tx: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: domain.StreamIngestKey,
			Values: map[string]interface{}{"data": string(b)},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return cursor, fmt.Errorf("pipeline exec: %w", err)
	}

	// 游标更新失败宁可中止，下一轮重拉靠 append 幂等兜底
	if res.cursor != cursor {
		if err := e.cursors.UpdateCursor(ctx, campaign.EscrowWallet, campaign.CampaignID, res.cursor); err != nil {
			return cursor, err
		}
	}
	return res.cursor, nil
}

// worker 消费 stream，把归一化记录转交给 append 协程
func (e *Engine) worker(ctx context.Context, workNum int) {
	consumerName := fmt.Sprintf("consumer-%d", workNum)
	_ = e.rds.XGroupCreateMkStream(ctx, domain.StreamIngestKey, domain.GroupName, "0").Err()

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := e.rds.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    domain.GroupName,
			Consumer: consumerName,
			Streams:  []string{domain.StreamIngestKey, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error(ctx, "XReadGroup 错误", zap.Error(err), zap.Int("worker_num", workNum))
			time.Sleep(time.Second) // 出错休眠一下，防止日志刷屏
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				e.dispatch(ctx, msg)
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, msg redis.XMessage) {
	dataRaw, ok := msg.Values["data"]
	if !ok {
		logger.Error(ctx, "消息缺少 data 字段，跳过", zap.String("msg_id", msg.ID))
		return
	}
	dataStr, ok := dataRaw.(string)
	if !ok {
		logger.Error(ctx, "data 字段类型断言失败，跳过", zap.String("msg_id", msg.ID))
		return
	}
	var tx escrowdomain.EscrowTx
	if err := json.Unmarshal([]byte(dataStr), &tx); err != nil {
		logger.Error(ctx, "JSON 解析失败，跳过", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}
	e.msgIDs.Store(tx.ID, msg.ID)

	// 非阻塞发送：channel 满了消息留在 stream，下次 XReadGroup 重投
	// 没进 channel 的映射条目必须清掉，持续背压下这张表不能涨
	select {
	case <-ctx.Done():
		e.msgIDs.Delete(tx.ID)
	case e.appendChan <- &tx:
	default:
		e.msgIDs.Delete(tx.ID)
		logger.Warn(ctx, "append 通道已满，消息留在 stream 等待重投",
			zap.String("msg_id", msg.ID), zap.String("tx", tx.ID))
	}
}

// appendHandler 账本写入协程，成功后把 stream msg id 交给 acker
func (e *Engine) appendHandler(ctx context.Context, workNum int) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx := <-e.appendChan:
			if _, err := e.ledger.Append(ctx, tx); err != nil {
				// 不 ack，stream 会重投；映射条目留着没用，删掉
				e.msgIDs.Delete(tx.ID)
				logger.Error(ctx, "账本写入失败", zap.Error(err),
					zap.String("tx", tx.ID), zap.Int("handler_num", workNum))
				continue
			}
			if msgID, ok := e.msgIDs.LoadAndDelete(tx.ID); ok {
				select {
				case <-ctx.Done():
					return
				case e.ackChan <- msgID.(string):
				default:
					// ack 丢了顶多重复消费一次，append 幂等扛得住
				}
			}
		}
	}
}

func (e *Engine) acker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msgID := <-e.ackChan:
			if err := e.rds.XAck(ctx, domain.StreamIngestKey, domain.GroupName, msgID).Err(); err != nil {
				logger.Error(ctx, "stream ACK 失败", zap.Error(err), zap.String("msg_id", msgID))
			}
		}
	}
}

// ---------------------------------------------------------
// 健康状态
// ---------------------------------------------------------

func (e *Engine) trackCampaign(campaignID string) {
	e.mu.Lock()
	e.campaigns[campaignID] = &CampaignStatus{}
	e.mu.Unlock()
}

func (e *Engine) untrackCampaign(campaignID string) {
	e.mu.Lock()
	delete(e.campaigns, campaignID)
	e.mu.Unlock()
}

func (e *Engine) setCampaignStatus(campaignID string, pulledAt time.Time, failures int, degraded bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.campaigns[campaignID]
	if !ok {
		cs = &CampaignStatus{}
		e.campaigns[campaignID] = cs
	}
	if !pulledAt.IsZero() {
		cs.LastPullAt = pulledAt
	}
	cs.Failures = failures
	cs.Degraded = degraded
	if err != nil {
		e.lastError = err.Error()
	}
}

// Degraded 单个活动是否处于降级拉取状态，campaign-detail 的 stale 标记用
func (e *Engine) Degraded(campaignID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.campaigns[campaignID]
	return ok && cs.Degraded
}

// Status 当前摄入健康快照，任何一个活动降级则整体不 OK
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{OK: true, Campaigns: make(map[string]CampaignStatus, len(e.campaigns))}
	for id, cs := range e.campaigns {
		st.Campaigns[id] = *cs
		if cs.Degraded {
			st.OK = false
			st.LastError = e.lastError
		}
	}
	return st
}
