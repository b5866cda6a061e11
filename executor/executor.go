// Package executor compiles and runs untrusted programs. Every job gets one
// worker slot and one workspace for its whole lifetime.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/language"
	"github.com/judgekit/go-executor/worker"
	"github.com/judgekit/go-executor/workspace"
	"go.uber.org/zap"
)

// Step names passed to the observer
const (
	StepCompile = "compile"
	StepRun     = "run"
)

// Config defines executor configuration
type Config struct {
	Worker      worker.Worker
	Workspace   *workspace.Manager
	Languages   *language.Registry
	Environment envexec.Environment
	Logger      *zap.Logger

	// Ceiling is the hard ceiling of the run step limits, zero fields are
	// unlimited
	Ceiling Limits

	// FileSizeLimit is the POSIX rlimit for files written by a program
	FileSizeLimit envexec.Size
	OpenFileLimit uint64

	// ExtraMemoryLimit is the allocation headroom above the memory limit,
	// peak usage beyond the limit is reported as out of memory
	ExtraMemoryLimit envexec.Size

	// TimeLimitTickInterval is the cpu usage polling interval
	TimeLimitTickInterval time.Duration

	// ExecObserver is called after every finished step
	ExecObserver func(lang, step string, r envexec.Result)
}

// Request is a single execution request
type Request struct {
	Language string
	Source   string
	Stdin    string
	Limits   Limits
}

// Result is the outcome of a single job
type Result struct {
	Stdout string
	Stderr string

	// ExitCode is the exit status, 128 + signal if killed by a signal and -1
	// when the program did not finish by itself
	ExitCode int

	TimedOut        bool
	OutOfMemory     bool
	OutputTruncated bool

	// CompileError is the compiler output when compile failed, run is
	// skipped in that case
	CompileError *string

	Status   envexec.Status
	Duration time.Duration // wall clock
	CPUTime  time.Duration
	Memory   envexec.Size
}

// Executor is the entry point to run programs
type Executor struct {
	worker    worker.Worker
	workspace *workspace.Manager
	languages *language.Registry
	env       envexec.Environment
	logger    *zap.Logger

	ceiling               Limits
	fileSizeLimit         envexec.Size
	openFileLimit         uint64
	extraMemoryLimit      envexec.Size
	timeLimitTickInterval time.Duration

	execObserver func(lang, step string, r envexec.Result)
}

// New creates new executor
func New(conf Config) *Executor {
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	return &Executor{
		worker:                conf.Worker,
		workspace:             conf.Workspace,
		languages:             conf.Languages,
		env:                   conf.Environment,
		logger:                conf.Logger,
		ceiling:               conf.Ceiling,
		fileSizeLimit:         conf.FileSizeLimit,
		openFileLimit:         conf.OpenFileLimit,
		extraMemoryLimit:      conf.ExtraMemoryLimit,
		timeLimitTickInterval: conf.TimeLimitTickInterval,
		execObserver:          conf.ExecObserver,
	}
}

// Languages returns the registry used to resolve languages
func (e *Executor) Languages() *language.Registry {
	return e.languages
}

// Execute compiles if needed and runs the source against stdin. It blocks
// until a worker slot is granted and the job finished. Compile errors,
// runtime faults and exceeded limits are reported in Result.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	br, err := e.ExecuteBatch(ctx, &BatchRequest{
		Language: req.Language,
		Source:   req.Source,
		Inputs:   []string{req.Stdin},
		Limits:   req.Limits,
	})
	if err != nil {
		return nil, err
	}
	if br.CompileError != nil {
		return &Result{
			CompileError: br.CompileError,
			Status:       br.CompileStatus,
			ExitCode:     -1,
		}, nil
	}
	return br.Results[0], nil
}

// prepare validates the request before any resource is allocated
func (e *Executor) prepare(lang, source string, limits Limits) (language.Language, Limits, error) {
	if lang == "" {
		return nil, Limits{}, fmt.Errorf("%w: empty language", ErrValidation)
	}
	if source == "" {
		return nil, Limits{}, fmt.Errorf("%w: empty source code", ErrValidation)
	}
	l, err := e.languages.Get(lang)
	if err != nil {
		return nil, Limits{}, err
	}
	resolved, err := resolveLimits(l.DefaultLimits(), limits, e.ceiling)
	if err != nil {
		return nil, Limits{}, err
	}
	return l, resolved, nil
}

// submit runs fn in a worker slot and waits for it
func (e *Executor) submit(ctx context.Context, fn func(context.Context)) error {
	done, err := e.worker.Submit(ctx, fn)
	if err != nil {
		return err
	}
	return <-done
}

// step runs a single invocation and reports the result to the observer
func (e *Executor) step(ctx context.Context, lang language.Language, step string, inv language.Invocation, stdin string, limits Limits, relaxed bool) (envexec.Result, error) {
	c := &envexec.Cmd{
		Environment:      e.env,
		Args:             inv.Args,
		Env:              inv.Env,
		WorkDir:          inv.WorkDir,
		Stdin:            stdin,
		TimeLimit:        limits.CPUTime,
		ClockLimit:       limits.WallTime,
		MemoryLimit:      limits.Memory,
		StackLimit:       limits.Memory,
		FileSizeLimit:    e.fileSizeLimit,
		OutputLimit:      limits.Output,
		OpenFileLimit:    e.openFileLimit,
		ExtraMemoryLimit: e.extraMemoryLimit,
		RelaxedMemory:    relaxed,
		Waiter: (&waiter{
			tickInterval: e.timeLimitTickInterval,
			timeLimit:    limits.CPUTime,
			clockLimit:   limits.WallTime,
			memoryLimit:  limits.Memory,
		}).Wait,
	}
	s := &envexec.Single{Cmd: c}
	r, err := s.Run(ctx)
	if err != nil {
		e.logger.Error("Failed to start process",
			zap.String("language", lang.Name()), zap.String("step", step), zap.Error(err))
		return r, err
	}
	e.logger.Debug("Step finished",
		zap.String("language", lang.Name()),
		zap.String("step", step),
		zap.Stringer("status", r.Status),
		zap.Duration("time", r.Time),
		zap.Duration("runTime", r.RunTime),
		zap.Stringer("memory", r.Memory))
	if e.execObserver != nil {
		e.execObserver(lang.Name(), step, r)
	}
	return r, nil
}

// compile returns the compiler output if compile failed
func (e *Executor) compile(ctx context.Context, lang language.Language, ws *workspace.Workspace) (*string, envexec.Status, error) {
	inv, ok := lang.CompileInvocation(ws)
	if !ok {
		return nil, envexec.StatusAccepted, nil
	}
	if lang.BinaryFile() != "" {
		ws.BinaryPath = ws.Path(lang.BinaryFile())
	}
	r, err := e.step(ctx, lang, StepCompile, inv, "", lang.CompileLimits(), true)
	if err != nil {
		return nil, r.Status, err
	}
	if r.Status == envexec.StatusAccepted {
		return nil, r.Status, nil
	}
	msg := compileMessage(r)
	return &msg, r.Status, nil
}

func compileMessage(r envexec.Result) string {
	switch {
	case len(r.Stderr) > 0:
		return string(r.Stderr)
	case len(r.Stdout) > 0:
		return string(r.Stdout)
	case r.Error != "":
		return r.Status.String() + ": " + r.Error
	default:
		return r.Status.String()
	}
}

func newResult(r envexec.Result) *Result {
	return &Result{
		Stdout:          string(r.Stdout),
		Stderr:          string(r.Stderr),
		ExitCode:        exitCode(r),
		TimedOut:        r.Status == envexec.StatusTimeLimitExceeded,
		OutOfMemory:     r.Status == envexec.StatusMemoryLimitExceeded,
		OutputTruncated: r.StdoutTruncated || r.StderrTruncated,
		Status:          r.Status,
		Duration:        r.RunTime,
		CPUTime:         r.Time,
		Memory:          r.Memory,
	}
}

func exitCode(r envexec.Result) int {
	switch r.Status {
	case envexec.StatusAccepted:
		return 0
	case envexec.StatusNonzeroExitStatus:
		return r.ExitStatus
	case envexec.StatusSignalled, envexec.StatusDangerousSyscall, envexec.StatusOutputLimitExceeded:
		return 128 + r.ExitStatus
	default:
		return -1
	}
}
