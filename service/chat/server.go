package chat

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"SocialChat/logger"
	"SocialChat/tools/ids"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Identify 从握手请求中取已认证的用户；出错时回退到 query 里的 userId。
// 没带凭证应返回 errs.ErrTokenMissing，这种回退不记日志
type Identify func(r *http.Request) (userID string, err error)

type Options struct {
	SendQueue      int
	WriteTimeout   time.Duration
	ReadLimit      int64
	AllowedOrigins []string // 为空则不校验 Origin
	Lifecycle      LifecycleConf
	Identify       Identify
	NewConnID      func() string
	Logger         *zap.Logger
}

func (o *Options) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.NewConnID == nil {
		o.NewConnID = ids.GenerateString
	}
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	if o.Lifecycle.Logger == nil {
		o.Lifecycle.Logger = o.Logger
	}
}

// Server 实时核心：连接索引 + 生命周期 + 投递 + 上行事件路由，进程内一份，显式传递给需要的组件
type Server struct {
	opts       Options
	conns      *ConnManager
	rooms      *RoomTracker
	fan        *Fanout
	lifecycle  *Lifecycle
	dispatcher *Dispatcher
	router     *EventRouter
	upgrader   websocket.Upgrader
	log        *zap.Logger

	handlers sync.WaitGroup // 正在运行的 HandleWS
}

func NewServer(opts Options) *Server {
	opts.norm()
	s := &Server{
		opts:   opts,
		conns:  NewConnManager(),
		rooms:  NewRoomTracker(),
		fan:    NewFanout(opts.Logger),
		router: NewEventRouter(),
		log:    opts.Logger,
	}
	s.lifecycle = NewLifecycle(s.conns, s.rooms, s.fan, opts.Lifecycle)
	s.dispatcher = NewDispatcher(s.lifecycle.Presence(), s.rooms, s.conns, s.fan, opts.Logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	s.router.Register(EventJoinRoom, func(c *Client, data gjson.Result) error {
		roomID, err := parseRoomID(data)
		if err != nil {
			return err
		}
		s.lifecycle.JoinRoom(c, roomID)
		return nil
	})
	return s
}

func (s *Server) Dispatcher() *Dispatcher     { return s.dispatcher }
func (s *Server) Lifecycle() *Lifecycle       { return s.lifecycle }
func (s *Server) Presence() *PresenceRegistry { return s.lifecycle.Presence() }
func (s *Server) Rooms() *RoomTracker         { return s.rooms }
func (s *Server) Conns() *ConnManager         { return s.conns }
func (s *Server) Router() *EventRouter        { return s.router }

// OnlineUsers 当前在线用户快照
func (s *Server) OnlineUsers() []string { return s.lifecycle.Presence().Snapshot() }

type Stats struct {
	Connections int         `json:"connections"`
	OnlineUsers int         `json:"onlineUsers"`
	Rooms       int         `json:"rooms"`
	Fanout      FanoutStats `json:"fanout"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.conns.Len(),
		OnlineUsers: s.lifecycle.Presence().Len(),
		Rooms:       s.rooms.RoomCount(),
		Fanout:      s.fan.Stats(),
	}
}

// Shutdown 关闭全部连接，等读协程走完断开流程，再等后台落库结束
func (s *Server) Shutdown(ctx context.Context) error {
	n := s.conns.CloseAll()
	s.log.Info("[chat] shutting down", zap.Int("connections", n))

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.lifecycle.Wait(ctx)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
