package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== Lua 脚本 =====

// 只删除仍指向本连接的 key：旧连接迟到的下线不能覆盖新连接的上线
const luaOfflineIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// 续期同样只作用于仍指向本连接的 key
const luaRefreshIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// presence key: im:presence:<user>
// Value: connId，TTL 兜底进程崩溃后残留的 key
func presenceKey(user string) string { return "im:presence:" + user }

// PresenceStore 进程内在线表的 redis 镜像，供其他进程只读查询
type PresenceStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	offline *redis.Script
	refresh *redis.Script
}

func NewPresenceStore(rdb redis.UniversalClient, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceStore{
		rdb:     rdb,
		ttl:     ttl,
		offline: redis.NewScript(luaOfflineIfOwner),
		refresh: redis.NewScript(luaRefreshIfOwner),
	}
}

// Online 最后一次上线覆盖之前的连接
func (s *PresenceStore) Online(ctx context.Context, userID, connID string) error {
	err := s.rdb.Set(ctx, presenceKey(userID), connID, s.ttl).Err()
	return errors.Wrap(err, "presence online")
}

// Offline connId 不匹配时什么都不做
func (s *PresenceStore) Offline(ctx context.Context, userID, connID string) error {
	err := s.offline.Run(ctx, s.rdb, []string{presenceKey(userID)}, connID).Err()
	return errors.Wrap(err, "presence offline")
}

// Refresh 长连接存活期间续期，避免 TTL 到期后在线用户从镜像里消失
func (s *PresenceStore) Refresh(ctx context.Context, userID, connID string) error {
	err := s.refresh.Run(ctx, s.rdb, []string{presenceKey(userID)}, connID, s.ttl.Milliseconds()).Err()
	return errors.Wrap(err, "presence refresh")
}

// Lookup 用户当前连接
func (s *PresenceStore) Lookup(ctx context.Context, userID string) (connID string, online bool, err error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}
