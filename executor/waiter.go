package executor

import (
	"context"
	"time"

	"github.com/judgekit/go-executor/envexec"
)

// waiter reports an exceeded limit once the polled cpu usage exceeds the cpu
// limit, the polled resident memory exceeds the memory limit or the wall clock
// exceeds the clock limit
type waiter struct {
	tickInterval time.Duration
	timeLimit    time.Duration
	clockLimit   time.Duration
	memoryLimit  envexec.Size
}

func (w *waiter) Wait(ctx context.Context, p envexec.Process) bool {
	clockLimit := max(w.clockLimit, w.timeLimit)

	var timeout <-chan time.Time
	if clockLimit > 0 {
		timer := time.NewTimer(clockLimit)
		defer timer.Stop()
		timeout = timer.C
	}

	var tick <-chan time.Time
	if (w.timeLimit > 0 || w.memoryLimit > 0) && w.tickInterval > 0 {
		ticker := time.NewTicker(w.tickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			u := p.Usage()
			if w.timeLimit > 0 && u.Time > w.timeLimit {
				return true
			}
			if w.memoryLimit > 0 && u.Memory > w.memoryLimit {
				return true
			}
		case <-timeout:
			return true
		case <-p.Done():
			return false
		case <-ctx.Done():
			return false
		}
	}
}
