package env

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/runner"
	"github.com/judgekit/go-executor/envexec"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	containerName = "go-executor"
	containerCred = 1000
)

// unshareFlags creates new namespaces for every process. The user namespace
// allows the others to be created without privilege and the pid namespace
// makes the whole process tree die with its init.
const unshareFlags = unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS |
	unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS

// NewBuilder build a environment builder
func NewBuilder(c Config, logger *zap.Logger) (envexec.Environment, map[string]any, error) {
	var mountBuilder *mount.Builder
	proc := true
	mc, err := readMountConfig(c.MountConf)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, err
		}
		logger.Info("Mount config does not exists, use the default sandbox mount", zap.String("path", c.MountConf))
		mountBuilder = getDefaultMount()
	} else {
		mountBuilder, err = parseMountConfig(mc)
		if err != nil {
			return nil, nil, err
		}
		proc = mc.Proc
	}
	mounts := mountBuilder.FilterNotExist().Mounts

	filter, err := readSeccompConf(c.SeccompConf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load seccomp config: %w", err)
	}
	if filter != nil {
		logger.Info("Load seccomp filter", zap.String("path", c.SeccompConf))
	}

	cloneFlags := uintptr(unshareFlags)
	if c.NetShare {
		cloneFlags ^= unix.CLONE_NEWNET
	}

	// new root is a tmpfs mounted over an empty directory inside the mount
	// namespace, the host never sees its content
	root, err := os.MkdirTemp("", containerName+"-root")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	// programs run as containerCred inside the user namespace. When running
	// as root it maps to ContainerCred on the host, root stays mapped so
	// that root owned paths could be resolved while mounting.
	hostUID, hostGID := os.Geteuid(), os.Getegid()
	if hostUID == 0 && c.ContainerCred > 0 {
		hostUID, hostGID = c.ContainerCred, c.ContainerCred
	}

	e := &environment{
		cloneFlags:  cloneFlags,
		mounts:      mounts,
		root:        root,
		uidMappings: idMappings(hostUID, os.Geteuid()),
		gidMappings: idMappings(hostGID, os.Getegid()),
		credential:  &syscall.Credential{Uid: containerCred, Gid: containerCred},
		seccomp:     newSockFprog(filter),
		logger:      logger,
	}
	if proc {
		e.mounts = append(mounts[:len(mounts):len(mounts)], procMount())
	}
	err = e.probe()
	if err != nil && proc {
		// proc could be masked when running inside a container
		logger.Warn("Mounting proc failed, retry without proc", zap.Error(err))
		e.mounts = mounts
		proc = false
		err = e.probe()
	}
	if err != nil {
		if c.NoFallback {
			return nil, nil, fmt.Errorf("failed to create namespaces: %w", err)
		}
		logger.Warn("Creating namespaces failed, falling back to rlimit / rusage mode without file system isolation", zap.Error(err))
		e.cloneFlags = 0
		e.root = ""
		e.mounts = nil
		os.Remove(root)
	}
	isolated := e.root != ""
	logger.Info("Created sandbox environment",
		zap.Bool("namespaced", isolated),
		zap.Bool("netShare", c.NetShare),
		zap.Bool("proc", isolated && proc),
		zap.Int("uid", hostUID),
		zap.Bool("seccomp", filter != nil))
	if isolated {
		logger.Info("Created sandbox mount", zap.Stringer("mount", &mount.Builder{Mounts: e.mounts}))
	}

	return e, map[string]any{
		"namespaced": isolated,
		"cloneFlags": e.cloneFlags,
		"netShare":   c.NetShare,
		"seccomp":    filter != nil,
		"mount":      e.mounts,
		"hostName":   containerName,
		"uid":        hostUID,
		"gid":        hostGID,
	}, nil
}

// idMappings maps containerCred to host. The current user is mapped to root
// if it is not the host user.
func idMappings(host, self int) []syscall.SysProcIDMap {
	m := []syscall.SysProcIDMap{{ContainerID: containerCred, HostID: host, Size: 1}}
	if host != self {
		m = append(m, syscall.SysProcIDMap{ContainerID: 0, HostID: self, Size: 1})
	}
	return m
}

// probe starts a trivial process to check whether namespaces are permitted
func (e *environment) probe() error {
	p, err := exec.LookPath("true")
	if err != nil {
		e.logger.Debug("Skip namespace probe, true is not found in PATH")
		return nil
	}
	proc, err := e.Execve(context.Background(), envexec.ExecveParam{
		Args: []string{p},
	})
	if err != nil {
		return err
	}
	rt := proc.Result()
	if rt.Status != runner.StatusNormal {
		return fmt.Errorf("probe exited with %v: %s", rt.Status, rt.Error)
	}
	return nil
}

func newSockFprog(filter []syscall.SockFilter) *syscall.SockFprog {
	if len(filter) == 0 {
		return nil
	}
	return &syscall.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
}
