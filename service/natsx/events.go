package natsx

import (
	"context"
	"encoding/json"
	"time"

	chatsvc "SocialChat/service/chat"

	"github.com/pkg/errors"
)

const (
	BizPresence = "presence"
	BizMessage  = "message"

	SubjectPresence       = "chat.presence"
	SubjectMessageCreated = "chat.message.created"
)

// EventRoutes 导出事件用到的路由；jetStream=true 时走持久化流
func EventRoutes(jetStream bool) []NatsxRoute {
	mode := Core
	if jetStream {
		mode = JetStreamPush
	}
	return []NatsxRoute{
		{Biz: BizPresence, Subject: SubjectPresence, Mode: mode},
		{Biz: BizMessage, Subject: SubjectMessageCreated, Mode: mode},
	}
}

// PresenceEvent 一次在线变更；消费者按 Seq 丢弃乱序到达的旧事件
type PresenceEvent struct {
	Seq    uint64    `json:"seq"`
	UserID string    `json:"userId"`
	Status string    `json:"status"` // online / offline
	Online []string  `json:"online"`
	At     time.Time `json:"at"`
}

type MessageEvent struct {
	Target  string    `json:"target"` // user:<id> / room:<id>
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Exporter 把在线列表变化和新消息发布到 NATS，供进程外的消费者使用
type Exporter struct {
	out Sender
	now func() time.Time
}

func NewExporter(out Sender) *Exporter {
	return &Exporter{out: out, now: time.Now}
}

// PublishPresence At 沿用变更发生时的时间，不在发布时重新取
func (e *Exporter) PublishPresence(ctx context.Context, ch chatsvc.PresenceChange) error {
	ev := PresenceEvent{
		Seq:    ch.Seq,
		UserID: ch.UserID,
		Status: "offline",
		Online: ch.Snapshot,
		At:     ch.At,
	}
	if ch.Online {
		ev.Status = "online"
	}
	if ev.Online == nil {
		ev.Online = []string{}
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	return e.publish(ctx, BizPresence, ev)
}

func (e *Exporter) PublishMessage(ctx context.Context, target chatsvc.Target, payload any) error {
	return e.publish(ctx, BizMessage, MessageEvent{Target: target.String(), Payload: payload, At: e.now()})
}

func (e *Exporter) publish(ctx context.Context, biz string, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", biz)
	}
	return e.out.PublishOnce(ctx, biz, data, map[string]string{"Content-Type": "application/json"}, "")
}
