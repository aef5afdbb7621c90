package chat

import (
	"context"
	"sync"
	"time"

	"SocialChat/tools/errs"
	"SocialChat/tools/safe"

	"go.uber.org/zap"
)

type sinkTask struct {
	what string
	fn   func(ctx context.Context) error
}

// sinkQueue 按入队顺序串行执行外部写入。push 不阻塞，可以在持有 registry 锁时调用；
// 队列空时消费协程退出，下次 push 再拉起
type sinkQueue struct {
	mu      sync.Mutex
	tasks   []sinkTask
	running bool

	wg      *sync.WaitGroup
	timeout time.Duration
	log     *zap.Logger
}

func newSinkQueue(wg *sync.WaitGroup, timeout time.Duration, log *zap.Logger) *sinkQueue {
	return &sinkQueue{wg: wg, timeout: timeout, log: log}
}

func (q *sinkQueue) push(what string, fn func(ctx context.Context) error) {
	q.mu.Lock()
	q.tasks = append(q.tasks, sinkTask{what: what, fn: fn})
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	safe.GoTracked(q.wg, q.drain)
}

func (q *sinkQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.tasks = nil
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = sinkTask{}
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		q.run(t)
	}
}

// run 单个任务 panic 不能中断后续任务
func (q *sinkQueue) run(t sinkTask) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("[lifecycle] "+t.what+" panic", zap.Error(errs.ErrPanic(r)))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		q.log.Warn("[lifecycle] "+t.what+" failed", zap.Error(err))
	}
}
