package chat

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// 与前端约定的事件名
const (
	EventGetOnlineUsers = "getOnlineUsers"
	EventNewMessage     = "newMessage"
	EventJoinRoom       = "joinRoom"
)

// Frame 线上格式：{"event": "...", "data": ...}
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

// Inbound 客户端发来的帧，data 保留原始 JSON 交给各事件处理器
type Inbound struct {
	Event string
	Data  gjson.Result
}

var errBadFrame = errors.New("frame must be a JSON object with a string event")

func ParseFrame(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, errBadFrame
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Inbound{}, errBadFrame
	}
	ev := root.Get("event")
	if ev.Type != gjson.String || ev.Str == "" {
		return Inbound{}, errBadFrame
	}
	return Inbound{Event: ev.Str, Data: root.Get("data")}, nil
}
