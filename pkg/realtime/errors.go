package realtime

import "errors"

var (
	// ErrEncodePayload 发送内容无法序列化为 JSON
	ErrEncodePayload = errors.New("realtime: encode payload")
	// ErrConnectionLost 连接被动断开且传输层没有给出原因
	ErrConnectionLost = errors.New("realtime: connection lost")
	// ErrResubscribe 连接后恢复订阅失败，会话会被关闭并按重连策略重试
	ErrResubscribe = errors.New("realtime: resubscribe")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("realtime: session closed")
)
