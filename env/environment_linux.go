package env

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/pkg/forkexec"
	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	"github.com/judgekit/go-executor/envexec"
	"go.uber.org/zap"
)

var _ envexec.Environment = &environment{}

type environment struct {
	cloneFlags uintptr

	// root is empty when running without a mount namespace
	root        string
	mounts      []mount.Mount
	uidMappings []syscall.SysProcIDMap
	gidMappings []syscall.SysProcIDMap
	credential  *syscall.Credential

	seccomp *syscall.SockFprog
	logger  *zap.Logger
}

// Execve starts the process with resource limits applied after fork and
// before exec. Inside the sandbox root only the system directories and the
// working directory, which is mounted read-write at the same path, are
// visible. The process tree is killed once c is done.
func (e *environment) Execve(c context.Context, param envexec.ExecveParam) (envexec.Process, error) {
	if len(param.Args) == 0 {
		return nil, errors.New("execve: no argument provided")
	}
	// forkexec does not search PATH
	execPath, err := exec.LookPath(param.Args[0])
	if err != nil {
		return nil, fmt.Errorf("execve: %w", err)
	}
	args := append([]string{execPath}, param.Args[1:]...)

	sTime := time.Now()
	limit := param.Limit
	rLimits := rlimit.RLimits{
		FileSize:    limit.Output.Byte(),
		Stack:       limit.Stack.Byte(),
		OpenFile:    limit.OpenFile,
		DisableCore: true,
	}
	if limit.Time > 0 {
		rLimits.CPU = uint64(limit.Time.Truncate(time.Second)/time.Second) + 1
	}
	if limit.StrictMemory {
		rLimits.Data = limit.Memory.Byte()
	}

	ch := &forkexec.Runner{
		Args:       args,
		Env:        param.Env,
		Files:      param.Files,
		WorkDir:    param.WorkDir,
		RLimits:    rLimits.PrepareRLimit(),
		CloneFlags: e.cloneFlags,
		Seccomp:    e.seccomp,
		NoNewPrivs: true,
	}
	if e.root != "" {
		m, err := buildMounts(e.mounts, param.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("execve: mount: %w", err)
		}
		ch.Mounts = m
		ch.PivotRoot = e.root
		ch.HostName = containerName
		ch.DomainName = containerName
		ch.UIDMappings = e.uidMappings
		ch.GIDMappings = e.gidMappings
		ch.Credential = e.credential
	}

	pid, err := ch.Start()
	if err != nil {
		return nil, fmt.Errorf("execve: %w", err)
	}
	e.logger.Debug("Process started", zap.Int("pid", pid), zap.Strings("args", args))
	return newProcess(c, pid, limit, sTime), nil
}
