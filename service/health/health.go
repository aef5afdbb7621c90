package health

import (
	"net"

	"SocialChat/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceChat 健康检查里的服务名；"" 代表整个进程
const ServiceChat = "socialchat.Chat"

// Server gRPC 健康检查：Mongo 就绪前是 NOT_SERVING
type Server struct {
	gs *grpc.Server
	hs *health.Server
}

func NewServer() *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	s := &Server{gs: gs, hs: hs}
	s.SetReady(false)
	return s
}

// SetReady 挂到 MongoManager.OnStateChange 上
func (s *Server) SetReady(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(ServiceChat, status)
	logger.L().Info("[health] status", zap.String("status", status.String()))
}

// Serve 阻塞直到 Stop
func (s *Server) Serve(lis net.Listener) error {
	logger.L().Info("[gRPC] health listening", zap.String("addr", lis.Addr().String()))
	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "grpc listen %s", addr)
	}
	return s.Serve(lis)
}

// Stop 先把状态置为 NOT_SERVING，让探针尽早摘流
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
