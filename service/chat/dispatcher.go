package chat

import (
	"go.uber.org/zap"
)

// Target 投递目标：DirectUser 或 Room，二者之一
type Target interface {
	isTarget()
	String() string
}

// DirectUser 投递给某个用户当前持有的连接
type DirectUser struct{ UserID string }

// Room 投递给加入该房间（群聊 id）的所有连接，发送者自己加入了也会收到
type Room struct{ RoomID string }

func (DirectUser) isTarget() {}
func (Room) isTarget()       {}

func (t DirectUser) String() string { return "user:" + t.UserID }
func (t Room) String() string       { return "room:" + t.RoomID }

// Dispatcher 把已落库的消息推给在线连接；不确认、不去重、不重试
type Dispatcher struct {
	presence *PresenceRegistry
	rooms    *RoomTracker
	conns    *ConnManager
	fan      *Fanout
	log      *zap.Logger
}

func NewDispatcher(presence *PresenceRegistry, rooms *RoomTracker, conns *ConnManager, fan *Fanout, log *zap.Logger) *Dispatcher {
	return &Dispatcher{presence: presence, rooms: rooms, conns: conns, fan: fan, log: log}
}

// Deliver 以 newMessage 事件推送 payload，返回入队次数；目标不在线时返回 0
func (d *Dispatcher) Deliver(payload any, target Target) int {
	frame, err := EncodeFrame(EventNewMessage, payload)
	if err != nil {
		d.log.Error("[dispatch] encode payload", zap.Stringer("target", target), zap.Error(err))
		return 0
	}

	var conns []*Client
	switch t := target.(type) {
	case DirectUser:
		connID, ok := d.presence.Lookup(t.UserID)
		if !ok {
			d.log.Debug("[dispatch] recipient offline", zap.String("userId", t.UserID))
			return 0
		}
		if c, ok := d.conns.Get(connID); ok {
			conns = []*Client{c}
		}
	case Room:
		conns = d.conns.Lookup(d.rooms.MembersOf(t.RoomID))
	default:
		d.log.Error("[dispatch] unknown target", zap.Any("target", target))
		return 0
	}

	n := d.fan.Push(conns, frame)
	d.log.Debug("[dispatch] delivered", zap.Stringer("target", target), zap.Int("pushes", n))
	return n
}
