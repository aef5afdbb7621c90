package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"SocialChat/data/database/mgo/mongoutil"
	"SocialChat/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Dialer 建立一次连接；默认 mongoutil.NewMongoDB，测试可替换
type Dialer func(ctx context.Context, cfg *mongoutil.Config) (*mongoutil.Client, error)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	healthy   atomic.Bool

	lastErr atomic.Value // errBox
	dial    Dialer
	onState func(healthy bool)
}

// atomic.Value 要求每次 Store 的具体类型一致
type errBox struct{ err error }

func NewManager() *MongoManager {
	return &MongoManager{
		readyCh: make(chan struct{}),
		dial:    mongoutil.NewMongoDB,
	}
}

// OnStateChange 健康状态变化时回调（如 gRPC health）
func (m *MongoManager) OnStateChange(f func(healthy bool)) {
	m.onState = f
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context, cfg *mongoutil.Config) {
	go m.loop(ctx, cfg)
}

func (m *MongoManager) loop(ctx context.Context, cfg *mongoutil.Config) {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
		healthEvery = 10 * time.Second
		failThresh  = 3
	)

	for {
		// ===== 连接阶段（带退避重试） =====
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			cli, err := m.dial(ctx, cfg)
			if err == nil {
				m.mu.Lock()
				m.client = cli
				m.mu.Unlock()
				m.setHealthy(true)
				m.readyOnce.Do(func() { close(m.readyCh) })
				logger.Info("[mongo] connected", zap.String("db", cfg.Database))
				break
			}

			m.lastErr.Store(errBox{err})
			logger.Warn("[mongo] connect failed", zap.Int("attempt", attempt), zap.Error(err))

			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1)) // 0~20%
			timer := time.NewTimer(backoff - jitter/2)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}

		// ===== 健康检查阶段（保持/掉线→重连）=====
		if !m.watch(ctx, healthEvery, failThresh) {
			return
		}
	}
}

// watch 返回 false 表示 ctx 结束，true 表示需要重连
func (m *MongoManager) watch(ctx context.Context, every time.Duration, failThresh int) bool {
	fail := 0
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-t.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(errBox{err})
			if fail >= failThresh {
				logger.Warn("[mongo] health check failed, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	m.setHealthy(false)
	if c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func (m *MongoManager) setHealthy(v bool) {
	if m.healthy.Swap(v) != v && m.onState != nil {
		m.onState(v)
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

func (m *MongoManager) Healthy() bool { return m.healthy.Load() }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// WaitReady 阻塞到首次连上或 ctx 结束
func (m *MongoManager) WaitReady(ctx context.Context) (*mongo.Database, error) {
	select {
	case <-m.readyCh:
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return nil, fmt.Errorf("mongo not ready: %w", err)
		}
		return nil, ctx.Err()
	}
	db, ok := m.TryGetDB()
	if !ok {
		return nil, fmt.Errorf("mongo connection dropped")
	}
	return db, nil
}

// Close 断开当前连接
func (m *MongoManager) Close() {
	m.drop()
}
