package wsexecutor

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/judgekit/go-executor/cmd/go-executor/model"
	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/executor"
	"go.uber.org/zap/zaptest"
)

// echoExecutor echoes the stdin as output, or fails for empty code
type echoExecutor struct{}

func (echoExecutor) Execute(_ context.Context, req *executor.Request) (*executor.Result, error) {
	if req.Source == "" {
		return nil, executor.ErrValidation
	}
	return &executor.Result{Stdout: req.Stdin, Status: envexec.StatusAccepted}, nil
}

func (echoExecutor) ExecuteBatch(context.Context, *executor.BatchRequest) (*executor.BatchResult, error) {
	return nil, executor.ErrValidation
}

func TestWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handled := make(chan struct{})
	router.Use(func(c *gin.Context) {
		defer close(handled)
		c.Next()
	})
	New(echoExecutor{}, zaptest.NewLogger(t)).Register(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	// the handler must not outlive the connection
	defer func() {
		conn.Close()
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Error("expected handler to return after the connection closed")
		}
	}()

	reqs := []model.Request{
		{RequestID: "a", Language: "python", Code: "x", Input: "1"},
		{RequestID: "b", Language: "python", Code: "x", Input: "2"},
		{RequestID: "c", Language: "python"},
	}
	for _, r := range reqs {
		if err := conn.WriteJSON(r); err != nil {
			t.Fatal(err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make(map[string]map[string]any)
	for range reqs {
		var resp map[string]any
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		id, _ := resp["requestId"].(string)
		got[id] = resp
	}

	if got["a"]["output"] != "1" || got["b"]["output"] != "2" {
		t.Errorf("outputs not paired with requests: %v", got)
	}
	if _, ok := got["c"]["error"]; !ok {
		t.Errorf("expected error response for c, got %v", got["c"])
	}
}

// blockExecutor blocks until the request is canceled
type blockExecutor struct {
	started  chan struct{}
	finished atomic.Bool
}

func (e *blockExecutor) Execute(ctx context.Context, _ *executor.Request) (*executor.Result, error) {
	close(e.started)
	<-ctx.Done()
	e.finished.Store(true)
	return nil, ctx.Err()
}

func (e *blockExecutor) ExecuteBatch(context.Context, *executor.BatchRequest) (*executor.BatchResult, error) {
	return nil, executor.ErrValidation
}

func TestWebSocketCancelOnClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handled := make(chan struct{})
	router.Use(func(c *gin.Context) {
		defer close(handled)
		c.Next()
	})
	exec := &blockExecutor{started: make(chan struct{})}
	New(exec, zaptest.NewLogger(t)).Register(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(model.Request{RequestID: "a", Language: "python", Code: "x"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the job to start")
	}
	conn.Close()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("expected handler to return after the connection closed")
	}
	if !exec.finished.Load() {
		t.Fatal("expected the running job to be canceled before the handler returned")
	}
}
