package chat

import (
	"net"
	"strings"

	"SocialChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// handshakeUserID socket.io 风格的客户端在未登录时会带上字面量 "undefined"/"null"
func handshakeUserID(raw string) string {
	v := strings.TrimSpace(raw)
	switch v {
	case "undefined", "null":
		return ""
	}
	return v
}

// HandleWS 升级为 WebSocket；读循环在当前协程，写循环单独一个协程
func (s *Server) HandleWS(c *gin.Context) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	userID := handshakeUserID(c.Query("userId"))
	if s.opts.Identify != nil {
		id, err := s.opts.Identify(c.Request)
		switch {
		case err == nil:
			if userID != "" && userID != id {
				s.log.Warn("[WS] handshake userId differs from token, using token",
					zap.String("query", userID), zap.String("token", id))
			}
			userID = id
		case !errors.Is(err, errs.ErrTokenMissing):
			s.log.Info("[WS] token rejected, using query userId",
				zap.String("query", userID), zap.Error(err))
		}
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求/握手失败，upgrader 已写回错误
		s.log.Info("[WS] upgrade failed", zap.Error(err))
		return
	}
	defer closeQuiet(ws)
	ws.SetReadLimit(s.opts.ReadLimit)

	client := NewClient(s.opts.NewConnID(), userID, ws, s.opts.SendQueue)
	go client.writeLoop(s.opts.WriteTimeout, s.log)

	if err := s.lifecycle.Connect(client); err != nil {
		s.log.Warn("[WS] connect rejected", zap.String("connId", client.ConnID), zap.Error(err))
		client.shutdown()
		return
	}
	defer s.lifecycle.Disconnect(client)

	// ---- 读循环：出错即退出，关闭与传输错误一样处理 ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Info("[WS] peer closed", zap.String("connId", client.ConnID))
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				s.log.Info("[WS] read timeout", zap.String("connId", client.ConnID), zap.Error(rerr))
			} else {
				s.log.Info("[WS] read err", zap.String("connId", client.ConnID), zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		in, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			s.log.Debug("[WS] bad frame", zap.String("connId", client.ConnID),
				zap.ByteString("sample", sample), zap.Error(perr))
			continue
		}

		h, ok := s.router.GetHandler(in.Event)
		if !ok {
			s.log.Debug("[WS] no handler", zap.String("event", in.Event))
			continue
		}
		if err := h(client, in.Data); err != nil {
			s.log.Info("[WS] handler error", zap.String("event", in.Event),
				zap.String("connId", client.ConnID), zap.Error(err))
		}
	}
}
