package shutdown

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type entry struct {
	name    string
	handler Handler
}

// Manager 退出前按注册的逆序释放资源（后打开的先关闭）
type Manager struct {
	mu        sync.Mutex
	callbacks []entry
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, entry{name: name, handler: handler})
}

// Shutdown 依次执行回调，只执行一次
// ctx 应该带超时；超时后剩余回调不再执行
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := ctx.Err(); err != nil {
			logrus.Warnf("关闭超时，跳过 %s: %v", cb.name, err)
			errs = append(errs, err)
			break
		}
		if err := cb.handler(ctx); err != nil {
			logrus.WithError(err).Warnf("关闭 %s 失败", cb.name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
