package chat

import (
	"context"
	"sync"
	"time"

	"SocialChat/logger"
	"SocialChat/tools/safe"

	"go.uber.org/zap"
)

// LastActiveStore 持久化用户最近活跃时间
type LastActiveStore interface {
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
}

// PresenceMirror 在线状态的外部镜像（如 redis），只写不读。
// 调用按 registry 的变更顺序串行到达；Offline/Refresh 只作用于仍由 connID 持有的记录
type PresenceMirror interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID, connID string) error
}

// PresencePublisher 在线列表变化后对外发布（如 nats），调用顺序与 Seq 一致
type PresencePublisher interface {
	PublishPresence(ctx context.Context, ch PresenceChange) error
}

type LifecycleConf struct {
	Store          LastActiveStore   // nil => 不落库
	Mirror         PresenceMirror    // 可选
	Publisher      PresencePublisher // 可选
	PersistTimeout time.Duration     // 单次外部写入超时
	MirrorRefresh  time.Duration     // 镜像续期间隔；0 => 不续期
	Clock          func() time.Time  // 可注入时钟（单测用）；nil => time.Now
	Logger         *zap.Logger
}

func (c *LifecycleConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.L()
	}
}

// Lifecycle 连接的 Connecting -> Active -> Closed 流转，拥有 PresenceRegistry 与 RoomTracker。
// 内存结构的更新是同步的；落库、镜像与发布都是尽力而为的后台任务，失败只记日志。
type Lifecycle struct {
	conf     LifecycleConf
	conns    *ConnManager
	rooms    *RoomTracker
	fan      *Fanout
	presence *PresenceRegistry
	log      *zap.Logger
	wg       sync.WaitGroup

	mirrorQ  *sinkQueue
	publishQ *sinkQueue
}

func NewLifecycle(conns *ConnManager, rooms *RoomTracker, fan *Fanout, conf LifecycleConf) *Lifecycle {
	conf.norm()
	l := &Lifecycle{
		conf:  conf,
		conns: conns,
		rooms: rooms,
		fan:   fan,
		log:   conf.Logger,
	}
	l.mirrorQ = newSinkQueue(&l.wg, conf.PersistTimeout, conf.Logger)
	l.publishQ = newSinkQueue(&l.wg, conf.PersistTimeout, conf.Logger)
	l.presence = NewPresenceRegistry(l.broadcastPresence)
	return l
}

func (l *Lifecycle) Presence() *PresenceRegistry { return l.presence }

// Connect 进入 Active。带 userId 的连接登记在线并广播；没有 userId 的连接不登记，只单独收到一份当前在线列表
func (l *Lifecycle) Connect(c *Client) error {
	if err := l.conns.Add(c); err != nil {
		return err
	}
	if !c.activate() {
		l.conns.Remove(c.ConnID)
		return errConnClosed
	}

	if !c.Tracked() {
		l.log.Info("[lifecycle] untracked connection", zap.String("connId", c.ConnID))
		l.presence.View(func(snapshot []string) {
			if frame, err := EncodeFrame(EventGetOnlineUsers, snapshot); err == nil {
				l.fan.Push([]*Client{c}, frame)
			}
		})
		return nil
	}

	l.presence.Register(c.UserID, c.ConnID)
	l.log.Info("[lifecycle] user connected", zap.String("userId", c.UserID), zap.String("connId", c.ConnID))
	l.touch(c.UserID)
	return nil
}

// JoinRoom 已关闭的连接忽略，避免与断开清理交错后留下脏成员
func (l *Lifecycle) JoinRoom(c *Client, roomID string) {
	if roomID == "" || c.State() != StateActive {
		return
	}
	l.rooms.Join(c.ConnID, roomID)
	l.log.Debug("[lifecycle] join room", zap.String("connId", c.ConnID), zap.String("roomId", roomID))
}

// Disconnect 幂等。内存清理总会完成，与落库结果无关
func (l *Lifecycle) Disconnect(c *Client) {
	if !c.markClosed() {
		return
	}
	l.conns.Remove(c.ConnID)
	rooms := l.rooms.RemoveConnection(c.ConnID)
	c.shutdown()

	if !c.Tracked() {
		l.log.Info("[lifecycle] untracked connection closed", zap.String("connId", c.ConnID))
		return
	}
	removed := l.presence.Unregister(c.UserID, c.ConnID)
	l.log.Info("[lifecycle] user disconnected",
		zap.String("userId", c.UserID), zap.String("connId", c.ConnID),
		zap.Bool("presenceRemoved", removed), zap.Strings("rooms", rooms))
	l.touch(c.UserID)
}

// Wait 等待后台写入完成，优雅退出和测试使用
func (l *Lifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lifecycle) touch(userID string) {
	if l.conf.Store == nil {
		return
	}
	at := l.conf.Clock()
	l.background("persist lastActive", func(ctx context.Context) error {
		return l.conf.Store.TouchLastActive(ctx, userID, at)
	})
}

// RunMirrorRefresh 定期给仍在线的用户续期镜像 TTL，阻塞到 ctx 结束
func (l *Lifecycle) RunMirrorRefresh(ctx context.Context) {
	if l.conf.Mirror == nil || l.conf.MirrorRefresh <= 0 {
		return
	}
	t := time.NewTicker(l.conf.MirrorRefresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.refreshMirror()
		}
	}
}

// refreshMirror 入队时 registry 可能已经变化，Refresh 的归属校验兜底
func (l *Lifecycle) refreshMirror() {
	for userID, connID := range l.presence.Entries() {
		userID, connID := userID, connID
		l.mirrorQ.push("mirror refresh", func(ctx context.Context) error {
			return l.conf.Mirror.Refresh(ctx, userID, connID)
		})
	}
}

// broadcastPresence 由 PresenceRegistry 在写锁内调用；镜像和发布在锁内入队，外部看到的顺序与 Seq 一致
func (l *Lifecycle) broadcastPresence(ch PresenceChange) {
	ch.At = l.conf.Clock()
	if frame, err := EncodeFrame(EventGetOnlineUsers, ch.Snapshot); err != nil {
		l.log.Error("[lifecycle] encode online users", zap.Error(err))
	} else {
		l.fan.Push(l.conns.Snapshot(), frame)
	}

	if m := l.conf.Mirror; m != nil {
		if ch.Online {
			l.mirrorQ.push("mirror online", func(ctx context.Context) error {
				return m.Online(ctx, ch.UserID, ch.ConnID)
			})
		} else {
			l.mirrorQ.push("mirror offline", func(ctx context.Context) error {
				return m.Offline(ctx, ch.UserID, ch.ConnID)
			})
		}
	}
	if p := l.conf.Publisher; p != nil {
		l.publishQ.push("publish presence", func(ctx context.Context) error {
			return p.PublishPresence(ctx, ch)
		})
	}
}

func (l *Lifecycle) background(what string, f func(ctx context.Context) error) {
	safe.GoTracked(&l.wg, func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.conf.PersistTimeout)
		defer cancel()
		if err := f(ctx); err != nil {
			l.log.Warn("[lifecycle] "+what+" failed", zap.Error(err))
		}
	})
}
