package wsexecutor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/judgekit/go-executor/cmd/go-executor/model"
	restexecutor "github.com/judgekit/go-executor/cmd/go-executor/rest_executor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Register registers web socket handle /ws
type Register interface {
	Register(*gin.Engine)
}

// New creates new websocket handle
func New(executor restexecutor.Executor, logger *zap.Logger) Register {
	return &wsHandle{
		executor: executor,
		logger:   logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type wsHandle struct {
	executor restexecutor.Executor
	logger   *zap.Logger
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/ws", h.handleWS)
}

func (h *wsHandle) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}

	// running jobs are canceled once the connection is gone
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resultCh := make(chan any, 128)

	// the handler returns after the reader, the writer and every job finished
	var (
		g    errgroup.Group
		jobs sync.WaitGroup
	)
	defer jobs.Wait()

	// read request
	g.Go(func() error {
		defer cancel()
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			req := new(model.Request)
			if err := conn.ReadJSON(req); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Sugar().Warn("ws read error: ", err)
				}
				return nil
			}
			jobs.Add(1)
			go func() {
				defer jobs.Done()
				h.run(ctx, req, resultCh)
			}()
		}
	})

	// write result
	g.Go(func() error {
		defer cancel()
		defer conn.Close()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case r := <-resultCh:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(r); err != nil {
					h.logger.Sugar().Warn("ws write error: ", err)
					return err
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return err
				}
			}
		}
	})
	g.Wait()
}

func (h *wsHandle) run(ctx context.Context, req *model.Request, resultCh chan<- any) {
	var resp any
	rt, err := h.executor.Execute(ctx, model.ConvertRequest(req))
	if err != nil {
		_, msg := model.ConvertError(err)
		h.logger.Debug("ws execute failed", zap.String("requestId", req.RequestID), zap.Error(err))
		resp = model.ErrorResponse{RequestID: req.RequestID, Error: msg}
	} else {
		r := model.ConvertResponse(rt)
		r.RequestID = req.RequestID
		resp = r
	}
	select {
	case resultCh <- resp:
	case <-ctx.Done():
	}
}
