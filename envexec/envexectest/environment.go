// Package envexectest provides an unrestricted envexec.Environment for tests.
// Processes are started in their own process group and only the wall clock
// limit of the waiter applies.
package envexectest

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/runner"
	"github.com/judgekit/go-executor/envexec"
)

// Environment starts processes with fork / exec
type Environment struct {
	mu      sync.Mutex
	started int
}

var _ envexec.Environment = &Environment{}

// New creates the test environment
func New() *Environment {
	return &Environment{}
}

// Started returns the number of processes started
func (e *Environment) Started() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Execve starts the process, it is killed when ctx is done
func (e *Environment) Execve(ctx context.Context, param envexec.ExecveParam) (envexec.Process, error) {
	if len(param.Args) == 0 {
		return nil, errors.New("execve: no argument provided")
	}
	path, err := exec.LookPath(param.Args[0])
	if err != nil {
		return nil, err
	}
	sTime := time.Now()
	pid, err := syscall.ForkExec(path, param.Args, &syscall.ProcAttr{
		Dir:   param.WorkDir,
		Env:   param.Env,
		Files: param.Files,
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.started++
	e.mu.Unlock()

	p := &process{
		pid:  pid,
		done: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			p.kill()
		case <-p.done:
		}
	}()
	go p.wait(sTime)
	return p, nil
}

type process struct {
	pid  int
	done chan struct{}
	rt   runner.Result

	mu     sync.Mutex
	reaped bool
}

func (p *process) wait(sTime time.Time) {
	defer close(p.done)

	var (
		wstatus syscall.WaitStatus
		rusage  syscall.Rusage
	)
	for {
		_, err := syscall.Wait4(p.pid, &wstatus, 0, &rusage)
		if err == syscall.EINTR {
			continue
		}
		p.mu.Lock()
		p.reaped = true
		p.mu.Unlock()
		if err != nil {
			p.rt = runner.Result{Status: runner.StatusRunnerError, Error: err.Error()}
			return
		}
		break
	}

	p.rt = runner.Result{
		Status:      runner.StatusNormal,
		Time:        time.Duration(rusage.Utime.Nano() + rusage.Stime.Nano()),
		Memory:      runner.Size(rusage.Maxrss << 10),
		RunningTime: time.Since(sTime),
	}
	switch {
	case wstatus.Exited():
		if s := wstatus.ExitStatus(); s != 0 {
			p.rt.Status = runner.StatusNonzeroExitStatus
			p.rt.ExitStatus = s
		}
	case wstatus.Signaled():
		p.rt.Status = runner.StatusSignalled
		p.rt.ExitStatus = int(wstatus.Signal())
	}
}

// kill kills the process group
func (p *process) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reaped {
		syscall.Kill(-p.pid, syscall.SIGKILL)
	}
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Result() envexec.RunnerResult {
	<-p.done
	return p.rt
}

func (p *process) Usage() envexec.Usage {
	return envexec.Usage{}
}
