package chat

import (
	"sort"
	"sync"
	"time"
)

// PresenceChange 一次成功的登记/注销；Seq 在写锁内递增，外部消费者据此判断新旧
type PresenceChange struct {
	Seq      uint64
	UserID   string
	ConnID   string
	Online   bool
	Snapshot []string
	At       time.Time // 由 Lifecycle 在锁内填入
}

// PresenceRegistry userId -> 当前持有的 connId，同一用户后连上的覆盖先前的（last connect wins）。
//
// onChange 在写锁内同步调用，保证各次变更按顺序交给下游；
// 回调不能阻塞，也不能回调本 registry。
type PresenceRegistry struct {
	mu       sync.RWMutex
	byUser   map[string]string
	seq      uint64
	onChange func(ch PresenceChange)
}

func NewPresenceRegistry(onChange func(ch PresenceChange)) *PresenceRegistry {
	return &PresenceRegistry{
		byUser:   make(map[string]string),
		onChange: onChange,
	}
}

// Register 插入或覆盖，每次调用都会触发一次快照广播
func (r *PresenceRegistry) Register(userID, connID string) {
	if userID == "" || connID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = connID
	r.notifyLocked(userID, connID, true)
}

// Unregister 仅当当前持有者就是 connID 时才删除，防止迟到的断开覆盖新连接
func (r *PresenceRegistry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	if !ok || cur != connID {
		return false
	}
	delete(r.byUser, userID)
	r.notifyLocked(userID, connID, false)
	return true
}

func (r *PresenceRegistry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Snapshot 在线用户，按 userId 排序
func (r *PresenceRegistry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// View 在读锁内把快照交给 fn，期间不会有新的广播插队
func (r *PresenceRegistry) View(fn func(snapshot []string)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.snapshotLocked())
}

// Entries userId -> connId 的拷贝
func (r *PresenceRegistry) Entries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.byUser))
	for u, c := range r.byUser {
		out[u] = c
	}
	return out
}

func (r *PresenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *PresenceRegistry) snapshotLocked() []string {
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (r *PresenceRegistry) notifyLocked(userID, connID string, online bool) {
	r.seq++
	if r.onChange != nil {
		r.onChange(PresenceChange{
			Seq:      r.seq,
			UserID:   userID,
			ConnID:   connID,
			Online:   online,
			Snapshot: r.snapshotLocked(),
		})
	}
}
