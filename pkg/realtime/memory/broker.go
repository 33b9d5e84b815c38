// Package memory 是进程内的消息代理，用于本地演示和测试
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/realtime"
)

const defaultQueueSize = 1024

// ErrBrokerDown 代理被标记为不可用时拨号返回的错误
var ErrBrokerDown = errors.New("memory broker: unavailable")

// Broker 在内存中按 topic 转发消息，所有会话共享
type Broker struct {
	mu        sync.Mutex
	sessions  map[*session]struct{}
	down      bool
	queueSize int
	published atomic.Int64
	dropped   atomic.Int64
}

// NewBroker 创建内存代理
func NewBroker() *Broker {
	return &Broker{
		sessions:  make(map[*session]struct{}),
		queueSize: defaultQueueSize,
	}
}

// SetDown 控制后续拨号是否失败，已有会话不受影响
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// DropAll 断开所有会话，会话以 ErrConnectionLost 结束
func (b *Broker) DropAll() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		s.finish(realtime.ErrConnectionLost)
	}
}

// Publish 向 topic 的所有订阅者投递 body，返回投递的订阅数
func (b *Broker) Publish(topic string, body []byte) int {
	b.mu.Lock()
	var targets []*subscription
	for s := range b.sessions {
		targets = append(targets, s.subscribers(topic)...)
	}
	b.mu.Unlock()

	b.published.Add(1)
	n := 0
	for _, sub := range targets {
		if sub.offer(body) {
			n++
		} else {
			b.dropped.Add(1)
			logger.Warnf("[memory] 订阅队列已满，丢弃消息: topic=%s", topic)
		}
	}
	return n
}

// Sessions 返回当前会话数
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Published 返回累计发布次数
func (b *Broker) Published() int64 { return b.published.Load() }

// Dropped 返回因队列满丢弃的消息数
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Dial 实现 realtime.Transport
func (b *Broker) Dial(ctx context.Context) (realtime.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, ErrBrokerDown
	}
	s := &session{
		broker: b,
		subs:   make(map[string][]*subscription),
		done:   make(chan struct{}),
	}
	b.sessions[s] = struct{}{}
	return s, nil
}

func (b *Broker) remove(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

type session struct {
	broker *Broker

	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool
	err    error
	done   chan struct{}
}

func (s *session) subscribers(topic string) []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return append([]*subscription(nil), s.subs[topic]...)
}

func (s *session) Subscribe(topic string, fn func(body []byte)) (realtime.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, realtime.ErrSessionClosed
	}
	sub := &subscription{
		session: s,
		topic:   topic,
		fn:      fn,
		queue:   make(chan []byte, s.broker.queueSize),
		stop:    make(chan struct{}),
	}
	s.subs[topic] = append(s.subs[topic], sub)
	go sub.pump()
	return sub, nil
}

func (s *session) Send(topic string, body []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return realtime.ErrSessionClosed
	}
	s.broker.Publish(topic, append([]byte(nil), body...))
	return nil
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.finish(nil)
	return nil
}

func (s *session) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	var all []*subscription
	for _, subs := range s.subs {
		all = append(all, subs...)
	}
	s.subs = make(map[string][]*subscription)
	close(s.done)
	s.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
	s.broker.remove(s)
}

func (s *session) detach(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[sub.topic]
	for i, other := range subs {
		if other == sub {
			s.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subs[sub.topic]) == 0 {
		delete(s.subs, sub.topic)
	}
}

type subscription struct {
	session *session
	topic   string
	fn      func([]byte)
	queue   chan []byte

	once      sync.Once
	stop      chan struct{}
	cancelled atomic.Bool
}

func (h *subscription) Topic() string { return h.topic }

func (h *subscription) Unsubscribe() error {
	h.session.detach(h)
	h.cancel()
	return nil
}

func (h *subscription) cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		close(h.stop)
	})
}

// offer 非阻塞入队，队列满时返回 false
func (h *subscription) offer(body []byte) bool {
	if h.cancelled.Load() {
		return true
	}
	select {
	case h.queue <- body:
		return true
	default:
		return false
	}
}

func (h *subscription) pump() {
	for {
		select {
		case <-h.stop:
			return
		case body := <-h.queue:
			if h.cancelled.Load() {
				return
			}
			h.fn(body)
		}
	}
}
