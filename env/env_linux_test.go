package env

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/judgekit/go-executor/envexec"
	"go.uber.org/zap/zaptest"
)

func newTestEnv(t *testing.T) (envexec.Environment, bool) {
	t.Helper()
	e, params, err := NewBuilder(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Skipf("sandbox is not available: %v", err)
	}
	t.Logf("environment: %v", params)
	namespaced, _ := params["namespaced"].(bool)
	return e, namespaced
}

// newWorkDir creates a directory writable by the sandboxed user
func newWorkDir(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.Mkdir(dir, 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o777); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestCmd(t *testing.T, script string) *envexec.Cmd {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh is not available")
	}
	e, _ := newTestEnv(t)
	return &envexec.Cmd{
		Environment: e,
		Args:        []string{"/bin/sh", "-c", script},
		Env:         []string{"PATH=/usr/bin:/bin"},
		WorkDir:     t.TempDir(),
		TimeLimit:   time.Second,
		ClockLimit:  5 * time.Second,
		MemoryLimit: 256 << 20,
		OutputLimit: 1 << 10,
	}
}

func run(t *testing.T, c *envexec.Cmd) envexec.Result {
	t.Helper()
	r, err := (&envexec.Single{Cmd: c}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSandboxRun(t *testing.T) {
	c := newTestCmd(t, "echo hello; pwd")
	r, err := (&envexec.Single{Cmd: c}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != envexec.StatusAccepted {
		t.Fatalf("expected accepted, got %v: %s", r.Status, r.Error)
	}
	if want := "hello\n" + c.WorkDir + "\n"; string(r.Stdout) != want {
		t.Fatalf("expected %q, got %q", want, r.Stdout)
	}
}

func TestSandboxCPULimit(t *testing.T) {
	c := newTestCmd(t, "while :; do :; done")
	start := time.Now()
	r, err := (&envexec.Single{Cmd: c}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != envexec.StatusTimeLimitExceeded {
		t.Fatalf("expected time limit exceeded, got %v", r.Status)
	}
	if d := time.Since(start); d > 4*time.Second {
		t.Fatalf("expected the cpu rlimit to stop the loop, took %v", d)
	}
}

func TestSandboxKillTree(t *testing.T) {
	c := newTestCmd(t, "sleep 100 & sleep 100")
	c.ClockLimit = 200 * time.Millisecond
	start := time.Now()
	r, err := (&envexec.Single{Cmd: c}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != envexec.StatusTimeLimitExceeded {
		t.Fatalf("expected time limit exceeded, got %v", r.Status)
	}
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("expected the process tree to be killed, took %v", d)
	}
}

func TestSandboxMissingBinary(t *testing.T) {
	c := newTestCmd(t, "")
	c.Args = []string{"/nonexistent/binary"}
	if _, err := (&envexec.Single{Cmd: c}).Run(context.Background()); err == nil {
		t.Fatal("expected launch error")
	}
}

func TestSandboxWorkspaceIsolation(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh is not available")
	}
	e, namespaced := newTestEnv(t)
	if !namespaced {
		t.Skip("namespaces are not available")
	}

	root := t.TempDir()
	own := newWorkDir(t, root, "own")
	victim := newWorkDir(t, root, "victim")
	if err := os.WriteFile(filepath.Join(victim, "main"), []byte("original"), 0o666); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "server.env"), []byte("AUTH_TOKEN=secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	script := "ls ..; cat ../server.env; echo tampered > ../victim/main; echo written > out; cat out"
	r := run(t, &envexec.Cmd{
		Environment: e,
		Args:        []string{"/bin/sh", "-c", script},
		Env:         []string{"PATH=/usr/bin:/bin"},
		WorkDir:     own,
		ClockLimit:  5 * time.Second,
		OutputLimit: 1 << 10,
	})
	out := string(r.Stdout)
	if out != "own\nwritten\n" {
		t.Errorf("expected only the own workspace to be visible, got %q (stderr %q)", out, r.Stderr)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("expected server files to be hidden, got %q", out)
	}
	b, err := os.ReadFile(filepath.Join(victim, "main"))
	if err != nil || string(b) != "original" {
		t.Errorf("expected sibling workspace untouched, got %q: %v", b, err)
	}
	b, err = os.ReadFile(filepath.Join(own, "out"))
	if err != nil || string(b) != "written\n" {
		t.Errorf("expected own workspace writable, got %q: %v", b, err)
	}
}

func TestSandboxReadOnlyRoot(t *testing.T) {
	c := newTestCmd(t, "echo x > /usr/x || echo denied; echo tmp > /tmp/x && cat /tmp/x")
	if _, namespaced := newTestEnv(t); !namespaced {
		t.Skip("namespaces are not available")
	}
	r := run(t, c)
	if string(r.Stdout) != "denied\ntmp\n" {
		t.Fatalf("expected read-only system directories and a writable /tmp, got %q (stderr %q)", r.Stdout, r.Stderr)
	}
	if _, err := os.Stat("/usr/x"); err == nil {
		t.Fatal("expected /usr to be untouched")
	}
}

func TestSandboxMemoryLimit(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 is not available")
	}
	e, _ := newTestEnv(t)

	for _, tc := range []struct {
		name string
		code string
	}{
		{"single", "a = bytearray(256 << 20)"},
		{"incremental", "a = []\nwhile True: a.append(bytearray(1 << 20))"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := run(t, &envexec.Cmd{
				Environment:      e,
				Args:             []string{python, "-c", tc.code},
				Env:              []string{"PATH=/usr/bin:/bin"},
				WorkDir:          t.TempDir(),
				TimeLimit:        5 * time.Second,
				ClockLimit:       10 * time.Second,
				MemoryLimit:      64 << 20,
				ExtraMemoryLimit: 512 << 20,
				OutputLimit:      1 << 10,
			})
			if r.Status != envexec.StatusMemoryLimitExceeded {
				t.Fatalf("expected memory limit exceeded, got %v (memory %v, stderr %q)", r.Status, r.Memory, r.Stderr)
			}
		})
	}
}

func TestSandboxNetwork(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 is not available")
	}
	e, namespaced := newTestEnv(t)
	if !namespaced {
		t.Skip("namespaces are not available")
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := lis.Addr().(*net.TCPAddr).Port
	code := fmt.Sprintf("import socket\nsocket.create_connection(('127.0.0.1', %d), 1)\nprint('connected')", port)
	r := run(t, &envexec.Cmd{
		Environment: e,
		Args:        []string{python, "-c", code},
		Env:         []string{"PATH=/usr/bin:/bin"},
		WorkDir:     t.TempDir(),
		ClockLimit:  10 * time.Second,
		MemoryLimit: 256 << 20,
		OutputLimit: 1 << 10,
	})
	if r.Status != envexec.StatusNonzeroExitStatus || strings.Contains(string(r.Stdout), "connected") {
		t.Fatalf("expected the connection to the host to fail, got %v %q", r.Status, r.Stdout)
	}
}
