package chat

import (
	"errors"
	"sync"
)

var (
	errConnExists = errors.New("connId exists")
	errConnEmpty  = errors.New("client/connId empty")
	errConnClosed = errors.New("connection already closed")
)

// ConnManager 本进程所有活跃连接：connId -> *Client
// 只做索引，不关心用户与房间；用户/房间关系分别在 PresenceRegistry 与 RoomTracker 里
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
}

func NewConnManager() *ConnManager {
	return &ConnManager{byConn: make(map[string]*Client)}
}

func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errConnEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[c.ConnID]; ok {
		return errConnExists
	}
	m.byConn[c.ConnID] = c
	return nil
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// Remove 只摘索引，不关闭连接
func (m *ConnManager) Remove(connID string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if ok {
		delete(m.byConn, connID)
	}
	return c, ok
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// Snapshot 当前所有连接的拷贝，供广播使用
func (m *ConnManager) Snapshot() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		out = append(out, c)
	}
	return out
}

// Lookup 按 connId 批量取连接，不存在的跳过
func (m *ConnManager) Lookup(connIDs []string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := m.byConn[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll 关闭所有底层 socket；读协程退出后各自走断开流程
func (m *ConnManager) CloseAll() int {
	clients := m.Snapshot()
	for _, c := range clients {
		closeQuiet(c.WS)
	}
	return len(clients)
}
