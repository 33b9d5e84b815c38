package stompws

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// wsConn 把 WebSocket 连接包装成 STOMP 需要的字节流
// 一个 STOMP 帧可能跨多个 WebSocket 消息，Read 会连续读取
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex

	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
	errMu   sync.Mutex
	err     error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:   ws,
		done: make(chan struct{}),
	}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.finish(err)
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.finish(err)
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 主动关闭，Err 保持为 nil
func (c *wsConn) Close() error {
	c.closing.Store(true)
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.finish(nil)
	return err
}

func (c *wsConn) finish(err error) {
	c.once.Do(func() {
		if !c.closing.Load() {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
		}
		close(c.done)
	})
}

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
