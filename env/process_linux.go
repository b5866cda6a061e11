package env

import (
	"context"
	"sync"
	"time"

	"github.com/criyle/go-sandbox/runner"
	"github.com/judgekit/go-executor/envexec"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

var _ envexec.Process = &process{}

// process defines the running process
type process struct {
	pid  int
	proc *procfs.Proc
	done chan struct{}
	rt   runner.Result

	// exited is set once the process became a zombie, signals must not be
	// delivered after that since the pid could be reused after reaping
	mu     sync.Mutex
	exited bool
}

func newProcess(ctx context.Context, pid int, limit envexec.Limit, sTime time.Time) *process {
	p := &process{
		pid:  pid,
		done: make(chan struct{}),
	}
	if proc, err := procfs.NewProc(pid); err == nil {
		p.proc = &proc
	}

	// handle cancel
	go func() {
		select {
		case <-ctx.Done():
			p.kill()
		case <-p.done:
		}
	}()
	go p.wait(limit, sTime)
	return p
}

func (p *process) wait(limit envexec.Limit, sTime time.Time) {
	defer close(p.done)

	mTime := time.Now()

	// wait without reaping so that kill is still safe until the mark
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, p.pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			break
		}
	}
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	var (
		wstatus unix.WaitStatus
		rusage  unix.Rusage
	)
	for {
		_, err := unix.Wait4(p.pid, &wstatus, 0, &rusage)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.rt.Error = err.Error()
			p.rt.Status = runner.StatusRunnerError
			return
		}
		break
	}

	fTime := time.Now()
	p.rt = runner.Result{
		Status:      runner.StatusNormal,
		Time:        time.Duration(rusage.Utime.Nano() + rusage.Stime.Nano()),
		Memory:      runner.Size(rusage.Maxrss << 10), // linux reports kb
		SetUpTime:   mTime.Sub(sTime),
		RunningTime: fTime.Sub(mTime),
	}
	switch {
	case wstatus.Exited():
		if status := wstatus.ExitStatus(); status != 0 {
			p.rt.Status = runner.StatusNonzeroExitStatus
			p.rt.ExitStatus = status
		}

	case wstatus.Signaled():
		sig := wstatus.Signal()
		switch sig {
		case unix.SIGXCPU, unix.SIGKILL:
			p.rt.Status = runner.StatusTimeLimitExceeded
		case unix.SIGXFSZ:
			p.rt.Status = runner.StatusOutputLimitExceeded
		case unix.SIGSYS:
			p.rt.Status = runner.StatusDisallowedSyscall
		default:
			p.rt.Status = runner.StatusSignalled
		}
		p.rt.ExitStatus = int(sig)
	}

	// a failed allocation usually ends as a runtime error, limits take
	// priority over the exit status
	if limit.Time > 0 && p.rt.Time > limit.Time {
		p.rt.Status = runner.StatusTimeLimitExceeded
	}
	if limit.Memory > 0 && p.rt.Memory > limit.Memory {
		p.rt.Status = runner.StatusMemoryLimitExceeded
	}
}

// kill kills the process tree. Inside a pid namespace killing the init kills
// every descendant, otherwise the process group is killed as well in case the
// child made itself a leader.
func (p *process) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return
	}
	unix.Kill(-p.pid, unix.SIGKILL)
	unix.Kill(p.pid, unix.SIGKILL)
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Result() envexec.RunnerResult {
	<-p.done
	return p.rt
}

func (p *process) Usage() envexec.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited || p.proc == nil {
		return envexec.Usage{}
	}
	stat, err := p.proc.Stat()
	if err != nil {
		return envexec.Usage{}
	}
	return envexec.Usage{
		Time:   time.Duration(stat.CPUTime() * float64(time.Second)),
		Memory: envexec.Size(stat.ResidentMemory()),
	}
}
