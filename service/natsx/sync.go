package natsx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender 事件导出依赖的发送能力，NatsxProducer 与 NatsxSyncPublisher 都满足
type Sender interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	P       Sender
	Retries int
	Backoff time.Duration
}

// PublishOnce 重试时沿用同一个 msgID，JetStream 侧不会重复入流
func (sp *NatsxSyncPublisher) PublishOnce(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
