package chat

import (
	"fmt"
	"strings"

	"SocialChat/tools/decode"

	"github.com/tidwall/gjson"
)

// EventHandler 处理客户端上行事件；返回错误只记日志，不回写客户端
type EventHandler func(c *Client, data gjson.Result) error

// EventRouter 上行事件名 -> 处理器
type EventRouter struct {
	handlers map[string]EventHandler
}

func NewEventRouter() *EventRouter {
	return &EventRouter{handlers: make(map[string]EventHandler)}
}

func (r *EventRouter) Register(event string, h EventHandler) { r.handlers[event] = h }

func (r *EventRouter) GetHandler(event string) (EventHandler, bool) {
	h, ok := r.handlers[event]
	return h, ok
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	ChatID string `json:"chatId"`
}

// parseRoomID joinRoom 的 data 可以是 "chatId"、数字，或 {"roomId": ...} / {"chatId": ...}
func parseRoomID(data gjson.Result) (string, error) {
	switch data.Type {
	case gjson.String, gjson.Number:
		if id := strings.TrimSpace(data.String()); id != "" {
			return id, nil
		}
	case gjson.JSON:
		if data.IsObject() {
			p, err := decode.Decode[joinRoomPayload](data.Value())
			if err != nil {
				return "", err
			}
			if id := strings.TrimSpace(p.RoomID); id != "" {
				return id, nil
			}
			if id := strings.TrimSpace(p.ChatID); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("joinRoom: missing room id in %q", data.Raw)
}
