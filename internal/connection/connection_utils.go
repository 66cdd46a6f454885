package connection

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/coder/websocket"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

// IsClosedError 判断错误是否只是表示连接已经关闭
func IsClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// HandleReadError 根据读取错误的类型输出对应级别的日志
func HandleReadError(connID string, err error) {
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case status != -1:
		logger.WarnF("[%s] Client close connection with status %d", connID, status)
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		logger.DebugF("[%s] Read loop stopped", connID)
	case errors.Is(err, context.DeadlineExceeded):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}
