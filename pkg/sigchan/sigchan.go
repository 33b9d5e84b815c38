package sigchan

import "context"

// Chan 是合并式的变更通知：连续多次 Emit 在被消费前只保留一次
// 只通知"有变化"，不携带数据，接收方自行读取最新状态
type Chan struct {
	c chan struct{}
}

// New 创建通知 channel，size 小于 1 时按 1 处理
func New(size int) *Chan {
	if size < 1 {
		size = 1
	}
	return &Chan{c: make(chan struct{}, size)}
}

// Emit 发出通知，缓冲已满时直接返回
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回只读 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Wait 阻塞直到收到通知或 ctx 结束
func (c *Chan) Wait(ctx context.Context) error {
	select {
	case <-c.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain 清空积压的通知，返回清掉的数量
func (c *Chan) Drain() int {
	n := 0
	for {
		select {
		case <-c.c:
			n++
		default:
			return n
		}
	}
}
