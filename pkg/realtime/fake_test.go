package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTransport 记录拨号次数，可配置拨号失败
type fakeTransport struct {
	mu       sync.Mutex
	dialErr  error
	dials    int
	sessions []*fakeSession
	// configure 在第 i 个会话交给客户端之前调整它的行为
	configure func(i int, s *fakeSession)
}

func (t *fakeTransport) Dial(ctx context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	s := newFakeSession()
	if t.configure != nil {
		t.configure(len(t.sessions), s)
	}
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	t.dialErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) sessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *fakeTransport) session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[i]
}

type sentMessage struct {
	topic string
	body  string
}

type fakeSession struct {
	mu             sync.Mutex
	handles        map[string][]*fakeHandle
	subscribeCalls []string
	sent           []sentMessage
	done           chan struct{}
	err            error
	closed         bool

	failSubscribe  map[string]error
	subscribeDelay time.Duration
	subscribing    chan string // 每次 Subscribe 开始等待确认时通知
	// router 非空时模拟单协程收包：SUBACK 与保留消息串行处理，保留消息在该协程内同步投递
	router   chan func()
	retained map[string]string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handles: make(map[string][]*fakeHandle),
		done:    make(chan struct{}),
	}
}

// subackTimeout 路由模式下等待订阅确认的时间
const subackTimeout = 200 * time.Millisecond

func (s *fakeSession) Subscribe(topic string, fn func(body []byte)) (Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.subscribeCalls = append(s.subscribeCalls, topic)
	if err := s.failSubscribe[topic]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	h := &fakeHandle{topic: topic, fn: fn}
	s.handles[topic] = append(s.handles[topic], h)
	delay, router, subscribing := s.subscribeDelay, s.router, s.subscribing
	body, hasRetained := s.retained[topic]
	s.mu.Unlock()

	if subscribing != nil {
		select {
		case subscribing <- topic:
		default:
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if router == nil {
		return h, nil
	}

	acked := make(chan struct{})
	select {
	case router <- func() {
		close(acked)
		if hasRetained {
			fn([]byte(body))
		}
	}:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-time.After(subackTimeout):
		_ = h.Unsubscribe()
		return nil, errors.New("subscribe " + topic + ": timed out waiting for SUBACK")
	}
	select {
	case <-acked:
		return h, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-time.After(subackTimeout):
		_ = h.Unsubscribe()
		return nil, errors.New("subscribe " + topic + ": timed out waiting for SUBACK")
	}
}

// routeInline 启用单协程收包，订阅确认后立即在收包协程内投递 retained 中的保留消息
func (s *fakeSession) routeInline(retained map[string]string) {
	s.router = make(chan func())
	s.retained = retained
	go func() {
		for {
			select {
			case f := <-s.router:
				f()
			case <-s.done:
				return
			}
		}
	}()
}

func (s *fakeSession) Send(topic string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.sent = append(s.sent, sentMessage{topic: topic, body: string(body)})
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.end(nil)
	return nil
}

// drop 模拟连接被动断开
func (s *fakeSession) drop(err error) {
	s.end(err)
}

func (s *fakeSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// publish 向 topic 上仍然有效的订阅投递消息
func (s *fakeSession) publish(topic string, body string) {
	s.mu.Lock()
	var active []*fakeHandle
	for _, h := range s.handles[topic] {
		if !h.cancelled() {
			active = append(active, h)
		}
	}
	s.mu.Unlock()
	for _, h := range active {
		h.fn([]byte(body))
	}
}

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribeCalls...)
}

func (s *fakeSession) sentMessages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *fakeSession) activeHandles(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles[topic] {
		if !h.cancelled() {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	mu     sync.Mutex
	topic  string
	fn     func([]byte)
	cancel bool
}

func (h *fakeHandle) Topic() string { return h.topic }

func (h *fakeHandle) Unsubscribe() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel {
		return errors.New("already unsubscribed")
	}
	h.cancel = true
	return nil
}

func (h *fakeHandle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel
}

// fakeScheduler 记录延迟，由测试手动触发
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) isPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if t.isPending() {
			n++
		}
	}
	return n
}

// fireNext 同步触发最早的未决定时器
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if t.isPending() {
			next = t
			break
		}
	}
	s.mu.Unlock()
	if next == nil {
		return false
	}
	next.mu.Lock()
	next.fired = true
	next.mu.Unlock()
	next.fn()
	return true
}

// fireStopped 强制执行一个已取消的定时器，模拟取消与触发的竞争
func (s *fakeScheduler) fireStopped() bool {
	s.mu.Lock()
	var target *fakeTimer
	for _, t := range s.timers {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			target = t
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	target.fn()
	return true
}
