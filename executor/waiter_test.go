package executor

import (
	"context"
	"testing"
	"time"

	"github.com/judgekit/go-executor/envexec"
)

type usageProcess struct {
	done  chan struct{}
	usage envexec.Usage
}

func (p *usageProcess) Done() <-chan struct{}        { return p.done }
func (p *usageProcess) Result() envexec.RunnerResult { return envexec.RunnerResult{} }
func (p *usageProcess) Usage() envexec.Usage         { return p.usage }

func TestWaiterCPULimit(t *testing.T) {
	p := &usageProcess{done: make(chan struct{}), usage: envexec.Usage{Time: 2 * time.Second}}
	w := &waiter{tickInterval: 10 * time.Millisecond, timeLimit: time.Second, clockLimit: time.Minute}

	start := time.Now()
	if !w.Wait(context.Background(), p) {
		t.Fatal("expected cpu limit exceeded")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("expected polling to detect the cpu usage")
	}
}

func TestWaiterMemoryLimit(t *testing.T) {
	p := &usageProcess{done: make(chan struct{}), usage: envexec.Usage{Memory: 80 << 20}}
	w := &waiter{tickInterval: 10 * time.Millisecond, clockLimit: time.Minute, memoryLimit: 64 << 20}

	start := time.Now()
	if !w.Wait(context.Background(), p) {
		t.Fatal("expected memory limit exceeded")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("expected polling to detect the memory usage")
	}
}

func TestWaiterMemoryWithinLimit(t *testing.T) {
	p := &usageProcess{done: make(chan struct{}), usage: envexec.Usage{Memory: 32 << 20}}
	w := &waiter{tickInterval: 10 * time.Millisecond, clockLimit: time.Minute, memoryLimit: 64 << 20}

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(p.done)
	}()
	if w.Wait(context.Background(), p) {
		t.Fatal("expected normal exit")
	}
}

func TestWaiterClockLimit(t *testing.T) {
	p := &usageProcess{done: make(chan struct{})}
	w := &waiter{tickInterval: 10 * time.Millisecond, timeLimit: 50 * time.Millisecond, clockLimit: 20 * time.Millisecond}
	// the clock limit is never below the cpu limit
	start := time.Now()
	if !w.Wait(context.Background(), p) {
		t.Fatal("expected clock limit exceeded")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected to wait for at least the cpu limit")
	}
}

func TestWaiterDone(t *testing.T) {
	p := &usageProcess{done: make(chan struct{})}
	close(p.done)
	w := &waiter{timeLimit: time.Second, clockLimit: time.Second}
	if w.Wait(context.Background(), p) {
		t.Fatal("expected normal exit")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = &usageProcess{done: make(chan struct{})}
	if w.Wait(ctx, p) {
		t.Fatal("expected canceled wait to report no time limit")
	}
}
