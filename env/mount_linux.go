package env

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/goccy/go-yaml"
)

// Mount defines single mount point configuration.
// type could be bind / tmpfs
type Mount struct {
	Type     string `yaml:"type"`
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Readonly bool   `yaml:"readonly"`
	Data     string `yaml:"data"`
}

// Mounts defines mount points of the sandbox root. The job workspace is
// always mounted read-write at its host path in addition.
type Mounts struct {
	Mount []Mount `yaml:"mount"`
	Proc  bool    `yaml:"proc"`
}

const defaultTmpFsParam = "size=64m,nr_inodes=4k"

func readMountConfig(p string) (*Mounts, error) {
	var m Mounts
	d, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(d, &m); err != nil {
		return nil, fmt.Errorf("parse mount config %s: %w", p, err)
	}
	return &m, nil
}

func parseMountConfig(m *Mounts) (*mount.Builder, error) {
	b := mount.NewBuilder()
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	for _, mt := range m.Mount {
		target := mountTarget(mt.Target)
		if target == "" {
			return nil, fmt.Errorf("invalid mount target %q", mt.Target)
		}
		source := mt.Source
		if !path.IsAbs(source) {
			source = path.Join(wd, source)
		}
		switch mt.Type {
		case "bind":
			b.WithBind(source, target, mt.Readonly)
		case "tmpfs":
			b.WithTmpfs(target, mt.Data)
		default:
			return nil, fmt.Errorf("invalid mount type %q", mt.Type)
		}
	}
	return b, nil
}

func getDefaultMount() *mount.Builder {
	b := mount.NewDefaultBuilder().
		// some compiler have multiple version
		WithBind("/etc/alternatives", "etc/alternatives", true).
		WithBind("/etc/ld.so.cache", "etc/ld.so.cache", true).
		// go wants /dev/null
		WithBind("/dev/null", "dev/null", false).
		// javascript wants /dev/urandom
		WithBind("/dev/urandom", "dev/urandom", false)
	// the jdk links its configuration into /etc
	jdk, _ := filepath.Glob("/etc/java-*")
	for _, p := range jdk {
		b.WithBind(p, mountTarget(p), true)
	}
	return b.WithTmpfs("tmp", defaultTmpFsParam)
}

// procMount is the read-only proc of the pid namespace
func procMount() mount.Mount {
	return mount.NewBuilder().WithProc().Mounts[0]
}

// buildMounts appends the read-write bind of workDir to the root mounts
func buildMounts(root []mount.Mount, workDir string) ([]mount.SyscallParams, error) {
	b := mount.NewBuilder().WithMounts(root)
	if workDir != "" {
		dir, err := filepath.Abs(workDir)
		if err != nil {
			return nil, err
		}
		target := mountTarget(dir)
		if target == "" {
			return nil, fmt.Errorf("invalid work dir %q", workDir)
		}
		b.WithBind(dir, target, false)
	}
	return b.Build()
}

// mountTarget converts an absolute path to the target relative to the
// sandbox root
func mountTarget(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
