// Package connection 实现了WebSocket连接的读写循环
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

var (
	ErrBackpressure = errors.New("connection: send queue full")
	ErrClosed       = errors.New("connection: closed")
)

// Connection 表示一个WebSocket客户端连接
//
// Send 只把数据放入发送队列, 真正的写操作由 WriteLoop 完成, 因此慢速客户端不会阻塞调用方
type Connection struct {
	ConnID string

	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration

	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

// NewConnection 包装一个已完成握手的WebSocket连接
func NewConnection(conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Connection{
		conn:         conn,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		closeCode:    websocket.StatusNormalClosure,
	}
}

// Send 将一帧数据放入发送队列, 队列已满或连接已关闭时立即返回错误
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Close 请求以指定状态码关闭连接, 只有第一次调用生效
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = websocket.StatusCode(code)
		c.closeReason = reason
		close(c.done)
	})
}

// Done 在连接被请求关闭后返回的通道会被关闭
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// WriteLoop 依次写出发送队列中的数据, 直到连接被关闭或ctx结束
func (c *Connection) WriteLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			c.flush(ctx)
			if err := c.conn.Close(c.closeCode, c.closeReason); err != nil && !IsClosedError(err) {
				logger.DebugF("[%s] Close handshake with status %d failed, details: %v", c.ConnID, c.closeCode, err)
			}
			return ErrClosed
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				return err
			}
		}
	}
}

// flush 尽量写出关闭前已经入队的数据
func (c *Connection) flush(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(ctx, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %d bytes: %w", len(data), err)
	}
	return nil
}

// ReadLoop 读取数据帧并交给handle处理, 直到读取出错
func (c *Connection) ReadLoop(ctx context.Context, handle func(data []byte)) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		handle(data)
	}
}
