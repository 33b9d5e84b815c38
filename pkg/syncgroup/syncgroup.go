package syncgroup

import (
	"errors"
	"fmt"
	"sync"
)

// Group 并发执行一组任务，等待全部完成并汇总错误
// 一个任务失败不会取消其他任务
type Group struct {
	wg sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// New 创建 Group
func New() *Group {
	return &Group{}
}

// Go 启动一个任务，name 会出现在错误信息里
func (g *Group) Go(name string, fn func() error) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := run(fn); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, fmt.Errorf("%s: %w", name, err))
			g.mu.Unlock()
		}
	}()
}

// run 把任务里的 panic 转成错误
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Wait 等待所有任务完成，返回合并后的错误（全部成功时为 nil）
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
