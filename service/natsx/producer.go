package natsx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	switch r.Mode {
	case Core:
		return p.c.sendCore(r.Subject, data, hdr)
	case JetStreamPush, JetStreamPull:
		return p.c.sendJS(ctx, r.Subject, data, hdr)
	default:
		return fmt.Errorf("unsupported mode")
	}
}

// PublishOnce：带 Nats-Msg-Id 的发布（JetStream 按它去重）
// - msgID 为空则生成 uuid
// - 不修改调用方传入的 hdr
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	out["Nats-Msg-Id"] = msgID
	return p.Publish(ctx, biz, data, out)
}
