package shutdown

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/sentinel/pkg/logger"
)

// Handler 关闭处理函数，应在 ctx 结束前返回
type Handler func(ctx context.Context) error

type callback struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	mu        sync.Mutex
	callbacks []callback
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调，name 只用于日志
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback{name: name, handler: handler})
}

// Shutdown 并发执行所有关闭回调（阻塞调用），只执行一次
// ctx 应该带超时，超时后不再等待未完成的回调
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(cb callback) {
			defer wg.Done()
			if err := cb.handler(ctx); err != nil {
				logger.Warnf("关闭 %s 失败: %v", cb.name, err)
				errMu.Lock()
				errs = append(errs, errors.Wrap(err, cb.name))
				errMu.Unlock()
				return
			}
			logger.Debugf("%s 已关闭", cb.name)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("所有关闭回调已完成")
	case <-ctx.Done():
		logger.Warnf("关闭超时: %v", ctx.Err())
		return ctx.Err()
	}

	errMu.Lock()
	defer errMu.Unlock()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
