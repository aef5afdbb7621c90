package chat

import (
	"sort"
	"sync"
)

type set map[string]struct{}

// RoomTracker roomId <-> connId 多对多关系，只在内存里，断线重连后由客户端重新 join
type RoomTracker struct {
	mu      sync.RWMutex
	members map[string]set // roomId -> connIds
	byConn  map[string]set // connId -> roomIds
}

func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		members: make(map[string]set),
		byConn:  make(map[string]set),
	}
}

// Join 幂等
func (t *RoomTracker) Join(connID, roomID string) {
	if connID == "" || roomID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.members[roomID]
	if m == nil {
		m = make(set)
		t.members[roomID] = m
	}
	m[connID] = struct{}{}

	rs := t.byConn[connID]
	if rs == nil {
		rs = make(set)
		t.byConn[connID] = rs
	}
	rs[roomID] = struct{}{}
}

func (t *RoomTracker) MembersOf(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return keys(t.members[roomID])
}

func (t *RoomTracker) RoomsOf(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return keys(t.byConn[connID])
}

// RemoveConnection 从所有房间摘掉该连接，空房间一并删除；返回它曾加入的房间
func (t *RoomTracker) RemoveConnection(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.byConn[connID]
	delete(t.byConn, connID)
	for roomID := range rs {
		if m := t.members[roomID]; m != nil {
			delete(m, connID)
			if len(m) == 0 {
				delete(t.members, roomID)
			}
		}
	}
	return keys(rs)
}

func (t *RoomTracker) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

func keys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
