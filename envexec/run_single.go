package envexec

import (
	"context"
	"fmt"
	"os"
	"time"
)

// collectGrace bounds how long the output is waited after the process exits
const collectGrace = 200 * time.Millisecond

const defaultExtraMemoryLimit Size = 16 << 10 // 16k

// runSingle runs Cmd inside the given environment
func runSingle(pc context.Context, c *Cmd, fds []*os.File, ptc []*pipeBuffer) (result Result, err error) {
	// run cmd and wait for result
	rt, exceeded, err := runSingleWait(pc, c, fds)
	if err != nil {
		for _, p := range ptc {
			p.Bytes(0)
		}
		return result, fmt.Errorf("%w: %s: %v", ErrLaunch, c.Args[0], err)
	}

	// collect result
	stdout, stdoutTruncated := ptc[0].Bytes(collectGrace)
	stderr, stderrTruncated := ptc[1].Bytes(collectGrace)
	result = Result{
		Status:          convertStatus(rt.Status),
		ExitStatus:      rt.ExitStatus,
		Error:           rt.Error,
		Time:            rt.Time,
		RunTime:         rt.RunningTime,
		Memory:          rt.Memory,
		Stdout:          stdout,
		Stderr:          stderr,
		StdoutTruncated: stdoutTruncated,
		StderrTruncated: stderrTruncated,
	}
	if exceeded || (c.TimeLimit > 0 && result.Time > c.TimeLimit) {
		result.Status = StatusTimeLimitExceeded
	}
	if c.MemoryLimit > 0 && result.Memory > c.MemoryLimit {
		result.Status = StatusMemoryLimitExceeded
	}
	return result, nil
}

func runSingleWait(pc context.Context, c *Cmd, fds []*os.File) (RunnerResult, bool, error) {
	// the process is killed by the environment once ctx is canceled
	ctx, cancel := context.WithCancel(pc)
	defer cancel()

	process, err := runSingleExecve(ctx, c, fds)
	if err != nil {
		return RunnerResult{}, false, err
	}

	wait := c.Waiter
	if wait == nil {
		wait = clockWaiter(c.ClockLimit)
	}

	// starts waiter to periodically check cpu usage
	exceeded := make(chan bool, 1)
	go func() {
		defer cancel()
		exceeded <- wait(ctx, process)
	}()

	// ensure waiter exit
	select {
	case <-process.Done():
	case <-ctx.Done():
	}
	cancel()
	rt := process.Result()
	return rt, <-exceeded, nil
}

func runSingleExecve(ctx context.Context, c *Cmd, fds []*os.File) (Process, error) {
	defer closeFiles(fds...)

	var stackLimit Size
	if c.StackLimit > 0 {
		stackLimit = c.StackLimit
	}
	if c.MemoryLimit > 0 && stackLimit > c.MemoryLimit {
		stackLimit = c.MemoryLimit
	}

	// the process is only stopped at memoryLimit, usage above c.MemoryLimit
	// is reported as memory limit exceeded after exit
	var memoryLimit Size
	if c.MemoryLimit > 0 {
		extraMemoryLimit := c.ExtraMemoryLimit
		if extraMemoryLimit == 0 {
			extraMemoryLimit = defaultExtraMemoryLimit
		}
		memoryLimit = c.MemoryLimit + extraMemoryLimit
	}

	// set running parameters
	execParam := ExecveParam{
		Args:    c.Args,
		Env:     c.Env,
		WorkDir: c.WorkDir,
		Files:   getFdArray(fds),
		Limit: Limit{
			Time:         c.TimeLimit,
			Memory:       memoryLimit,
			Stack:        stackLimit,
			Output:       c.FileSizeLimit,
			OpenFile:     c.OpenFileLimit,
			StrictMemory: !c.RelaxedMemory,
		},
	}
	return c.Environment.Execve(ctx, execParam)
}

// clockWaiter returns a waiter that only enforces the wall clock limit
func clockWaiter(limit time.Duration) func(context.Context, Process) bool {
	return func(ctx context.Context, p Process) bool {
		var timeout <-chan time.Time
		if limit > 0 {
			timer := time.NewTimer(limit)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
			return false
		case <-p.Done():
			return false
		case <-timeout:
			return true
		}
	}
}
