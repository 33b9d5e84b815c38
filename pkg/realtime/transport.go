package realtime

import (
	"context"
	"time"
)

// Transport 建立到消息代理的连接
// ctx 只约束建立连接的过程，会话建立后的生命周期由 Session 自己管理
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session 是一条已建立的代理连接
//
// Subscribe 不能同步回调 fn，消息必须在其它 goroutine 中投递；
// 同一 topic 的消息按到达顺序调用 fn。
type Session interface {
	Subscribe(topic string, fn func(body []byte)) (Handle, error)
	Send(topic string, body []byte) error
	// Done 在连接断开（无论主动还是被动）后关闭
	Done() <-chan struct{}
	// Err 返回断开原因，主动 Close 时为 nil
	Err() error
	Close() error
}

// Handle 是传输层的订阅句柄
type Handle interface {
	Topic() string
	Unsubscribe() error
}

// Timer 是可取消的定时任务
type Timer interface {
	Stop() bool
}

// Scheduler 调度延迟任务，测试中可替换为假时钟
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler 返回基于 time.AfterFunc 的调度器
func SystemScheduler() Scheduler {
	return systemScheduler{}
}
