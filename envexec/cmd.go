package envexec

import (
	"context"
	"time"

	"github.com/criyle/go-sandbox/runner"
)

// Size represent data size in bytes
type Size = runner.Size

// RunnerResult represent process finish result
type RunnerResult = runner.Result

// Cmd defines instruction to run a program inside an environment
type Cmd struct {
	Environment Environment

	// exec argument, environment and working directory
	Args    []string
	Env     []string
	WorkDir string

	// Stdin is the path of the file bound to fd 0, /dev/null if empty
	Stdin string

	// resource limits
	TimeLimit     time.Duration // cpu time
	ClockLimit    time.Duration // wall clock
	MemoryLimit   Size
	StackLimit    Size
	FileSizeLimit Size // POSIX rlimit for the files written
	OutputLimit   Size // bytes collected from each of stdout / stderr
	OpenFileLimit uint64

	// ExtraMemoryLimit is the address space allowed above MemoryLimit before
	// allocations fail, so that peak usage over MemoryLimit is observable and
	// reported as memory limit exceeded
	ExtraMemoryLimit Size

	// RelaxedMemory skips the data segment rlimit and only compares the peak
	// resident memory against MemoryLimit
	RelaxedMemory bool

	// Waiter is called after cmd starts and it should return
	// once a limit is exceeded.
	// return true to kill the process and false as normal exits (context finished).
	// The status is then decided by the time and memory usage.
	Waiter func(context.Context, Process) bool
}

// Result defines the running result for single Cmd
type Result struct {
	Status Status

	ExitStatus int

	Error string // error

	Time    time.Duration
	RunTime time.Duration
	Memory  Size // byte

	// collected output
	Stdout []byte
	Stderr []byte

	// StdoutTruncated / StderrTruncated reports the stream exceeded OutputLimit
	StdoutTruncated bool
	StderrTruncated bool
}
