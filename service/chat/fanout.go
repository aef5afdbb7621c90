package chat

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Fanout 把一帧推到一组连接的发送队列。
// 调用方所在协程里同步入队，不经过额外的 worker，所以同一连接上的帧顺序与调用顺序一致。
type Fanout struct {
	log       *zap.Logger
	delivered atomic.Int64
	dropped   atomic.Int64
}

type FanoutStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

func NewFanout(log *zap.Logger) *Fanout {
	return &Fanout{log: log}
}

// Push 返回成功入队的连接数；队列满的慢连接直接丢帧
func (f *Fanout) Push(conns []*Client, payload []byte) int {
	if len(conns) == 0 || len(payload) == 0 {
		return 0
	}
	n := 0
	for _, c := range conns {
		if c.enqueue(payload) {
			n++
			continue
		}
		if c.State() != StateClosed {
			f.dropped.Add(1)
			f.log.Warn("[fanout] send queue full, frame dropped",
				zap.String("connId", c.ConnID), zap.String("userId", c.UserID))
		}
	}
	f.delivered.Add(int64(n))
	return n
}

func (f *Fanout) Stats() FanoutStats {
	return FanoutStats{Delivered: f.delivered.Load(), Dropped: f.dropped.Load()}
}
