package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	// 用 NewMsg 构造更安全
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	// 带上下文 publish，等待 stream ack
	if _, err := c.js.PublishMsg(newMsg(subject, data, hdr), nats.Context(ctx)); err != nil {
		return errors.Wrapf(err, "js publish %s", subject)
	}
	return nil
}
