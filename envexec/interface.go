package envexec

import (
	"context"
	"time"
)

// ExecveParam is parameters to run process inside environment
type ExecveParam struct {
	// Args holds command line arguments
	Args []string

	// Env specifies the environment of the process
	Env []string

	// WorkDir specifies the working directory of the process
	WorkDir string

	// Files specifies file descriptors for the child process
	Files []uintptr

	// Process Limitations
	Limit Limit
}

// Limit defines the process running resource limits
type Limit struct {
	Time         time.Duration // Time limit
	Memory       Size          // Memory limit
	Stack        Size          // Stack limit
	Output       Size          // Output limit
	OpenFile     uint64        // Number of open files
	StrictMemory bool          // Use stricter memory limit (e.g. rlimit)
}

// Usage defines the peak process resource usage
type Usage struct {
	Time   time.Duration
	Memory Size
}

// Process reference to the running process group
type Process interface {
	Done() <-chan struct{} // Done returns a channel for wait process to exit
	Result() RunnerResult  // Result wait until done and returns RunnerResult
	Usage() Usage          // Usage retrieves the process usage during the run time
}

// Environment defines the interface to start processes in the sandbox.
// The process is killed once the context passed to Execve is done.
type Environment interface {
	Execve(context.Context, ExecveParam) (Process, error)
}
