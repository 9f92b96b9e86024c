// Package mgo keeps one MongoDB client alive: it connects in the background,
// pings periodically and reconnects after repeated failures.
package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"fieldgate/data/database/mgo/mongoutil"
	"fieldgate/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	cfg *mongoutil.Config

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error

	baseBackoff time.Duration
	maxBackoff  time.Duration
	healthEvery time.Duration
	failThresh  int

	connect func(ctx context.Context, cfg *mongoutil.Config) (*mongoutil.Client, error)
}

func NewManager(cfg *mongoutil.Config) *MongoManager {
	return &MongoManager{
		cfg:         cfg,
		readyCh:     make(chan struct{}),
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		healthEvery: 10 * time.Second,
		failThresh:  3,
		connect:     mongoutil.NewMongoDB,
	}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !m.connectLoop(ctx) {
				return
			}
			if !m.healthLoop(ctx) {
				return
			}
		}
	}()
}

// connectLoop 连接阶段（带退避重试）; false when ctx is done.
func (m *MongoManager) connectLoop(ctx context.Context) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := m.connect(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("[mongo] connected", zap.String("database", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)
		logger.Warn("[mongo] connect failed", zap.Int("attempt", attempt+1), zap.Error(err))

		// 退避 + 抖动
		backoff := m.baseBackoff << attempt
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
		sleep := backoff
		if j := int64(backoff / 5); j > 0 {
			sleep -= time.Duration(rand.Int63n(j)) / 2
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// healthLoop 健康检查阶段：连续失败 failThresh 次后断开并返回 true 以重连
func (m *MongoManager) healthLoop(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			if err := m.Ping(ctx); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= m.failThresh {
					logger.Warn("[mongo] unhealthy, reconnecting", zap.Error(err))
					m.drop()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Disconnect(context.Background())
	}
}

// Ready 首次连接成功时会 close
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
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

// Ping is used by the health endpoint.
func (m *MongoManager) Ping(ctx context.Context) error {
	db, ok := m.TryGetDB()
	if !ok {
		if err := m.Err(); err != nil {
			return fmt.Errorf("mongo not connected: %w", err)
		}
		return fmt.Errorf("mongo not connected")
	}
	return db.Client().Ping(ctx, nil)
}

// WaitReady blocks until the first connection or ctx end.
func (m *MongoManager) WaitReady(ctx context.Context) error {
	if _, ok := m.TryGetDB(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return fmt.Errorf("%w: last error: %v", ctx.Err(), err)
		}
		return ctx.Err()
	}
}
