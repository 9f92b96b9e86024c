package natsx

import (
	"context"
	"fmt"
	"time"

	"fieldgate/logger"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、恢复、幂等等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件，mws[0] 在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover turns a handler panic into an error so one bad message cannot
// take the subscription goroutine down.
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("[natsx] handler panic", zap.String("subject", msg.Subject), zap.Any("panic", r))
					err = fmt.Errorf("natsx handler panic: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// NatsxLogger logs failed and slow handlers.
func NatsxLogger(slow time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			cost := time.Since(start)
			switch {
			case err != nil:
				logger.Warn("[natsx] handler failed",
					zap.String("subject", msg.Subject), zap.Int("size", len(msg.Data)), zap.Error(err))
			case slow > 0 && cost > slow:
				logger.Info("[natsx] slow handler", zap.String("subject", msg.Subject), zap.Duration("cost", cost))
			}
			return err
		}
	}
}
