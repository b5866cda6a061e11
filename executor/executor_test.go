package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/judgekit/go-executor/envexec/envexectest"
	"github.com/judgekit/go-executor/language"
	"github.com/judgekit/go-executor/worker"
	"github.com/judgekit/go-executor/workspace"
	"go.uber.org/zap/zaptest"
)

var testLimits = Limits{
	CPUTime:  2 * time.Second,
	WallTime: 5 * time.Second,
	Memory:   256 << 20,
	Output:   64 << 10,
}

// sh runs the source directly, shc "compiles" it with a syntax check
func testRegistry(t *testing.T) *language.Registry {
	t.Helper()
	r, err := language.NewRegistry(
		language.Spec{
			Name:       "sh",
			Kind:       language.KindInterpreted,
			SourceFile: "main.sh",
			Run:        []string{"/bin/sh", "{source}"},
			Limits:     testLimits,
		},
		language.Spec{
			Name:          "shc",
			Kind:          language.KindNative,
			SourceFile:    "main.sh",
			BinaryFile:    "main",
			Compile:       []string{"/bin/sh", "-c", `sh -n "$0" && cp "$0" "$1"`, "{source}", "{binary}"},
			Run:           []string{"/bin/sh", "{binary}"},
			Limits:        testLimits,
			CompileLimits: testLimits,
		},
		language.Spec{
			Name:       "missing",
			Kind:       language.KindInterpreted,
			SourceFile: "main.txt",
			Run:        []string{"/nonexistent/interpreter", "{source}"},
			Limits:     testLimits,
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

type testExecutor struct {
	*Executor
	worker    worker.Worker
	workspace *workspace.Manager
	env       *envexectest.Environment
}

func newTestExecutor(t *testing.T, parallelism, queueDepth int) *testExecutor {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh is not available")
	}
	logger := zaptest.NewLogger(t)
	w := worker.New(worker.Config{
		Parallelism: parallelism,
		QueueDepth:  queueDepth,
		Logger:      logger,
	})
	w.Start()
	t.Cleanup(w.Shutdown)

	ws, err := workspace.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	env := envexectest.New()
	e := New(Config{
		Worker:      w,
		Workspace:   ws,
		Languages:   testRegistry(t),
		Environment: env,
		Logger:      logger,
		Ceiling: Limits{
			CPUTime:  10 * time.Second,
			WallTime: 20 * time.Second,
			Memory:   1 << 30,
			Output:   1 << 20,
		},
		TimeLimitTickInterval: 50 * time.Millisecond,
	})
	return &testExecutor{Executor: e, worker: w, workspace: ws, env: env}
}

func (e *testExecutor) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workspace.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || e.workspace.Active() != 0 {
		t.Fatalf("expected no workspace left, got %d entries, %d active", len(entries), e.workspace.Active())
	}
}

func TestExecuteEcho(t *testing.T) {
	e := newTestExecutor(t, 2, 2)
	for _, lang := range []string{"sh", "shc"} {
		lang := lang
		t.Run(lang, func(t *testing.T) {
			r, err := e.Execute(context.Background(), &Request{
				Language: lang,
				Source:   "cat",
				Stdin:    "hello",
			})
			if err != nil {
				t.Fatal(err)
			}
			if r.CompileError != nil {
				t.Fatalf("unexpected compile error %s", *r.CompileError)
			}
			if r.Stdout != "hello" || r.ExitCode != 0 || r.TimedOut {
				t.Fatalf("unexpected result %+v", r)
			}
		})
	}
	e.assertClean(t)
}

func TestExecuteRuntimeFault(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	r, err := e.Execute(context.Background(), &Request{
		Language: "sh",
		Source:   "echo bad >&2\nexit 7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.ExitCode != 7 || r.Stderr != "bad\n" || r.TimedOut || r.CompileError != nil {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	start := time.Now()
	r, err := e.Execute(context.Background(), &Request{
		Language: "sh",
		Source:   "while :; do :; done",
		Limits:   Limits{CPUTime: 200 * time.Millisecond, WallTime: 300 * time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("expected to return near the wall limit, took %v", d)
	}
	if !r.TimedOut || r.ExitCode != -1 {
		t.Fatalf("expected timed out, got %+v", r)
	}
	e.assertClean(t)
}

func TestExecuteOutputTruncated(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	r, err := e.Execute(context.Background(), &Request{
		Language: "sh",
		Source:   "i=0\nwhile [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done",
		Limits:   Limits{Output: 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Stdout) != 100 || !r.OutputTruncated {
		t.Fatalf("expected 100 truncated bytes, got %d %v", len(r.Stdout), r.OutputTruncated)
	}
	if r.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", r.ExitCode)
	}
}

func TestCompileErrorSkipsRun(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	sentinel := filepath.Join(t.TempDir(), "sentinel")
	r, err := e.Execute(context.Background(), &Request{
		Language: "shc",
		Source:   fmt.Sprintf("touch %s\n(", sentinel),
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.CompileError == nil || *r.CompileError == "" {
		t.Fatalf("expected compile error, got %+v", r)
	}
	if _, err := os.Stat(sentinel); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("run step should not happen, sentinel: %v", err)
	}
	if n := e.env.Started(); n != 1 {
		t.Fatalf("expected only the compile process, got %d", n)
	}
	e.assertClean(t)
}

func TestExecuteValidation(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"empty source", Request{Language: "sh"}, ErrValidation},
		{"empty language", Request{Source: "cat"}, ErrValidation},
		{"unknown language", Request{Language: "cobol", Source: "cat"}, ErrUnsupportedLanguage},
		{"negative limit", Request{Language: "sh", Source: "cat", Limits: Limits{CPUTime: -1}}, ErrValidation},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.Execute(context.Background(), &tc.req); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
	if e.env.Started() != 0 {
		t.Fatal("no process should be started")
	}
	e.assertClean(t)
}

func TestExecuteLaunchError(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	_, err := e.Execute(context.Background(), &Request{Language: "missing", Source: "x"})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected launch error, got %v", err)
	}
	e.assertClean(t)
}

func TestExecuteOverload(t *testing.T) {
	e := newTestExecutor(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.Execute(ctx, &Request{Language: "sh", Source: "sleep 10"})
			errs <- err
		}()
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := e.worker.Stats()
		if st.Running == 1 && st.Queued == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs were not admitted: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := e.Execute(context.Background(), &Request{Language: "sh", Source: "cat"}); !errors.Is(err, ErrOverload) {
		t.Fatalf("expected overload, got %v", err)
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected canceled, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("canceled job did not return")
		}
	}
	e.assertClean(t)
}

func TestExecuteConcurrentPairing(t *testing.T) {
	e := newTestExecutor(t, 4, 32)
	const n = 16

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// identical source with distinguishable input
			source := "cat"
			input := fmt.Sprintf("input-%d", i)
			lang := "shc"
			if i%2 == 0 {
				lang = "sh"
			}
			r, err := e.Execute(context.Background(), &Request{Language: lang, Source: source, Stdin: input})
			if err != nil {
				t.Error(err)
				return
			}
			if r.Stdout != input {
				t.Errorf("expected output %q, got %q", input, r.Stdout)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		d := time.Duration(100+i*50) * time.Millisecond
		go func() {
			defer wg.Done()
			r, err := e.Execute(context.Background(), &Request{
				Language: "sh",
				Source:   "while :; do :; done",
				Limits:   Limits{CPUTime: d, WallTime: d},
			})
			if err != nil {
				t.Error(err)
				return
			}
			if !r.TimedOut {
				t.Errorf("expected timed out, got %+v", r)
			}
		}()
	}
	wg.Wait()
	e.assertClean(t)
}

func TestExecuteBatch(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	source := "read x\n[ \"$x\" = 2 ] && exit 1\necho \"$x\""

	r, err := e.ExecuteBatch(context.Background(), &BatchRequest{
		Language: "shc",
		Source:   source,
		Inputs:   []string{"1\n", "2\n", "3\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(r.Results))
	}
	if r.Results[0].Stdout != "1\n" || r.Results[1].ExitCode != 1 || r.Results[2].Stdout != "3\n" {
		t.Fatalf("unexpected results %+v %+v %+v", r.Results[0], r.Results[1], r.Results[2])
	}
	// compile happens once
	if n := e.env.Started(); n != 4 {
		t.Fatalf("expected 4 processes, got %d", n)
	}

	r, err = e.ExecuteBatch(context.Background(), &BatchRequest{
		Language:      "shc",
		Source:        source,
		Inputs:        []string{"1\n", "2\n", "3\n"},
		StopOnFailure: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Results) != 2 {
		t.Fatalf("expected to stop after the failure, got %d results", len(r.Results))
	}

	if _, err := e.ExecuteBatch(context.Background(), &BatchRequest{Language: "sh", Source: "cat"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	e.assertClean(t)
}

func TestExecuteCanceledWhileRunning(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, &Request{Language: "sh", Source: "sleep 10"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	e.assertClean(t)
}

func TestCompileMessage(t *testing.T) {
	e := newTestExecutor(t, 1, 0)
	r, err := e.Execute(context.Background(), &Request{Language: "shc", Source: "if then"})
	if err != nil {
		t.Fatal(err)
	}
	if r.CompileError == nil || !strings.Contains(strings.ToLower(*r.CompileError), "syntax") {
		t.Fatalf("expected syntax error message, got %v", r.CompileError)
	}
}
