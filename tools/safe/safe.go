package safe

import (
	"sync"

	"SocialChat/logger"
	"SocialChat/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go run(nil, f)
}

// GoTracked is SafeGo plus wg accounting; wg.Add happens before the goroutine starts.
func GoTracked(wg *sync.WaitGroup, f func()) {
	wg.Add(1)
	go run(wg, f)
}

func run(wg *sync.WaitGroup, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SafeGo] panic recovered", zap.Error(errs.ErrPanic(r)))
		}
		if wg != nil {
			wg.Done()
		}
	}()
	f()
}
