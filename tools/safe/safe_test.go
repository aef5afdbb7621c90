package safe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoTracked_RecoversAndReleasesWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	var ran atomic.Int32

	GoTracked(&wg, func() { panic("boom") })
	GoTracked(&wg, func() { ran.Add(1) })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait group never released")
	}
	require.Equal(t, int32(1), ran.Load())
}

func TestSafeGo_Panics(t *testing.T) {
	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("ignored")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}
}
