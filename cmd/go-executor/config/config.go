package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/judgekit/go-executor/envexec"
	"github.com/koding/multiconfig"
)

// envFile is loaded into the environment if present, variables already set
// take precedence
const envFile = ".env"

// Config defines executor server configuration
type Config struct {
	// sandbox
	NetShare      bool   `flagUsage:"share net namespace with host"`
	SeccompConf   string `flagUsage:"specifies seccomp filter (requires seccomp build tag)" default:"seccomp.yaml"`
	MountConf     string `flagUsage:"specifies mount configuration file of the sandbox root" default:"mount.yaml"`
	ContainerCred int    `flagUsage:"specifies the host uid / gid of programs when running as root (0 keeps root)" default:"10000"`
	NoFallback    bool   `flagUsage:"fail to start when namespaces could not be created"`

	// scheduler
	Parallelism int `flagUsage:"control the # of concurrency execution (default equal to number of cpu)"`
	QueueDepth  int `flagUsage:"control the # of jobs waiting for a free slot before rejecting" default:"64"`

	// workspace & toolchain
	Dir          string `flagUsage:"specifies scratch root for workspaces (/dev/shm/go-executor by default)"`
	LanguageConf string `flagUsage:"specifies toolchain configuration file" default:"languages.yaml"`

	// runner limit ceiling, requests could not exceed these
	CPULimit    time.Duration `flagUsage:"specifies cpu time limit ceiling" default:"10s"`
	ClockLimit  time.Duration `flagUsage:"specifies wall clock limit ceiling" default:"20s"`
	MemoryLimit *envexec.Size `flagUsage:"specifies memory limit ceiling" default:"1g"`
	OutputLimit *envexec.Size `flagUsage:"specifies captured stdout / stderr ceiling" default:"4m"`

	TimeLimitCheckerInterval time.Duration `flagUsage:"specifies time limit checker interval" default:"100ms"`
	FileSizeLimit            *envexec.Size `flagUsage:"specifies POSIX rlimit for files written by programs" default:"64m"`
	OpenFileLimit            int           `flagUsage:"specifies max open file count" default:"256"`
	ExtraMemoryLimit         *envexec.Size `flagUsage:"specifies extra memory buffer for check memory limit" default:"1g"`

	// server config
	HTTPAddr    string `flagUsage:"specifies the http binding address (systemd:<name> for socket activation)" default:":5050"`
	MonitorAddr string `flagUsage:"specifies the metrics binding address" default:":5052"`
	AuthToken   string `flagUsage:"bearer token auth for REST / WebSocket"`
	RateLimit   int    `flagUsage:"requests per second accepted by /run per client (0 disables)"`
	RateBurst   int    `flagUsage:"burst size of the rate limit" default:"10"`

	EnableDebug   bool `flagUsage:"enable debug endpoint"`
	EnableMetrics bool `flagUsage:"enable prometheus metrics endpoint"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "ES",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "ES",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	if err := cl.Load(c); err != nil {
		return err
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	return nil
}
