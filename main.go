package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SocialChat/data/database"
	"SocialChat/global/config"
	"SocialChat/logger"
	"SocialChat/middleware"
	"SocialChat/middleware/security"
	"SocialChat/module/chat/message"
	"SocialChat/module/user"
	usersvc "SocialChat/module/user/service"
	"SocialChat/service/chat"
	"SocialChat/service/health"
	"SocialChat/service/mgo"
	"SocialChat/service/natsx"
	"SocialChat/service/storage"
	rdsx "SocialChat/service/storage/redis"
	"SocialChat/tools/errs"
	"SocialChat/tools/ids"
	"SocialChat/tools/safe"
	"SocialChat/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1) 配置与日志
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	log := logger.L()
	defer func() { _ = log.Sync() }()
	ids.SetNodeID(cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2) Mongo：后台连接，健康状态同步到 gRPC health
	hs := health.NewServer()
	mongo := mgo.NewManager()
	mongo.OnStateChange(hs.SetReady)
	mongo.StartAsync(ctx, cfg.MongoUtil())
	_ = specialerror.AddErrHandler(func(err error) (errs.CodeError, bool) {
		if errors.Is(err, database.ErrNotReady) {
			return errs.NewCodeError(http.StatusServiceUnavailable, "Service Unavailable."), true
		}
		return errs.CodeError{}, false
	})
	users := usersvc.NewUserStore(mongo)

	// 3) 可选：redis 在线镜像、nats 事件导出
	life := chat.LifecycleConf{Store: users, PersistTimeout: cfg.Socket.PersistTimeout}
	var closers []func() error
	if cfg.RedisEnabled() {
		rdb, err := rdsx.NewClient(ctx, cfg.RedisClient())
		if err != nil {
			log.Warn("redis disabled", zap.Error(err))
		} else {
			life.Mirror = storage.NewPresenceStore(rdb, cfg.Redis.PresenceTTL)
			life.MirrorRefresh = cfg.PresenceRefreshEvery()
			closers = append(closers, rdb.Close)
		}
	}
	var exporter *natsx.Exporter
	if cfg.NatsEnabled() {
		nc, err := natsx.NewNatsxClient(cfg.NatsClient())
		if err != nil {
			log.Warn("nats disabled", zap.Error(err))
		} else {
			for _, r := range natsx.EventRoutes(cfg.Nats.JetStream) {
				if err := nc.RegisterRoute(r); err != nil {
					log.Warn("nats route", zap.String("biz", r.Biz), zap.Error(err))
				}
			}
			producer := natsx.NewNatsxProducer(nc)
			exporter = natsx.NewExporter(&natsx.NatsxSyncPublisher{P: producer, Retries: 1, Backoff: 100 * time.Millisecond})
			life.Publisher = exporter
			closers = append(closers, nc.Close)
		}
	}

	// 4) 实时核心
	authOpts := security.DefaultOptions(cfg.JWTSecretBytes(), users)
	srv := chat.NewServer(chat.Options{
		SendQueue:      cfg.Socket.SendQueue,
		WriteTimeout:   cfg.Socket.WriteTimeout,
		ReadLimit:      cfg.Socket.ReadLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Lifecycle:      life,
		Identify:       security.Identify(authOpts),
		Logger:         log,
	})
	var pub message.Publisher
	if exporter != nil {
		pub = exporter
	}
	msgs := message.NewService(message.NewMongoStore(mongo), users, srv.Dispatcher(), pub)

	// 5) HTTP 路由
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	mids := middleware.NewManager()
	mids.Add(middleware.RequestID(), middleware.Origin(cfg.AllowedOrigins))
	r.Use(gin.Recovery(), middleware.AccessLog(log), mids.Use())

	rt := middleware.NewRoutes(security.Middleware(authOpts))
	api := r.Group("/api")
	message.NewHandler(msgs).Register(api.Group("/messages"), rt)
	user.NewHandler(users, srv).Register(api.Group("/users"), rt)
	r.GET("/socket", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		if !mongo.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"mongo": mongo.Healthy(), "chat": srv.Stats()})
	})

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	safe.SafeGo(func() {
		log.Info("[HTTP] listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("[HTTP] serve failed", zap.Error(err))
			stop()
		}
	})
	safe.SafeGo(func() { srv.Lifecycle().RunMirrorRefresh(ctx) })
	safe.SafeGo(func() {
		if err := hs.ListenAndServe(cfg.HealthAddr); err != nil {
			log.Error("[gRPC] serve failed", zap.Error(err))
		}
	})

	<-ctx.Done()
	log.Info("shutting down")

	// 6) 退出顺序：HTTP 停止接新请求 -> 关闭所有连接并等待落库 -> 外部依赖
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Socket.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("[HTTP] shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("[chat] shutdown", zap.Error(err))
	}
	hs.Stop()
	for _, c := range closers {
		_ = c()
	}
	mongo.Close()
}
