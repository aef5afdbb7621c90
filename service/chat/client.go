package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client represents one live socket.
// UserID is fixed at handshake; an empty UserID means the connection is untracked.
type Client struct {
	ConnID    string          // Unique connection ID (snowflake)
	UserID    string          // User ID from the handshake, may be empty
	WS        *websocket.Conn // nil in unit tests
	Send      chan []byte     // Outbound frame queue (consumed by a single writer goroutine)
	CreatedAt time.Time

	state   atomic.Int32
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// NewClient creates a new client connection object in the Connecting state.
func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 1
	}
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		WS:        ws,
		Send:      make(chan []byte, sendQueueSize),
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Tracked 是否参与在线状态
func (c *Client) Tracked() bool { return c.UserID != "" }

// Dropped 因发送队列满被丢弃的帧数
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Done 连接关闭后可读
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) activate() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// markClosed 只有第一次调用返回 true
func (c *Client) markClosed() bool {
	for {
		cur := c.state.Load()
		if cur == int32(StateClosed) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}

// enqueue never blocks. Send is never closed, so a racing enqueue after teardown is harmless.
func (c *Client) enqueue(frame []byte) bool {
	if c.State() == StateClosed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// writeLoop 单写协程：按入队顺序写出，写失败即关闭底层连接，读协程随之退出并走断开流程
func (c *Client) writeLoop(writeTimeout time.Duration, log *zap.Logger) {
	for {
		select {
		case <-c.done:
			if c.WS != nil {
				_ = c.WS.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
			}
			return
		case frame := <-c.Send:
			if err := writeText(c.WS, frame, writeTimeout); err != nil {
				log.Info("[WS] write failed", zap.String("connId", c.ConnID), zap.Error(err))
				closeQuiet(c.WS)
				return
			}
		}
	}
}

func writeText(conn *websocket.Conn, data []byte, timeout time.Duration) error {
	if conn == nil {
		return websocket.ErrCloseSent
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
