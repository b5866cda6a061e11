package restexecutor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/judgekit/go-executor/cmd/go-executor/model"
	"github.com/judgekit/go-executor/executor"
	"go.uber.org/zap"
)

// retryAfter is the Retry-After header value on overload, in seconds
const retryAfter = "1"

// Executor runs the requests
type Executor interface {
	Execute(context.Context, *executor.Request) (*executor.Result, error)
	ExecuteBatch(context.Context, *executor.BatchRequest) (*executor.BatchResult, error)
}

type cmdHandle struct {
	executor Executor
	logger   *zap.Logger
}

// NewCmdHandle creates a new command handle
func NewCmdHandle(executor Executor, logger *zap.Logger) Register {
	return &cmdHandle{
		executor: executor,
		logger:   logger,
	}
}

func (c *cmdHandle) Register(r *gin.Engine) {
	// Run handle
	r.POST("/run", c.handleRun)
	r.POST("/run/batch", c.handleRunBatch)
}

func (c *cmdHandle) handleRun(ctx *gin.Context) {
	var req model.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	c.logger.Sugar().Debugf("request: %+v", req)
	rt, err := c.executor.Execute(ctx.Request.Context(), model.ConvertRequest(&req))
	if err != nil {
		abortWithError(ctx, req.RequestID, err)
		return
	}
	c.logger.Sugar().Debugf("response: %+v", rt)

	res := model.ConvertResponse(rt)
	res.RequestID = req.RequestID
	ctx.JSON(http.StatusOK, res)
}

func (c *cmdHandle) handleRunBatch(ctx *gin.Context) {
	var req model.BatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	rt, err := c.executor.ExecuteBatch(ctx.Request.Context(), model.ConvertBatchRequest(&req))
	if err != nil {
		abortWithError(ctx, "", err)
		return
	}
	ctx.JSON(http.StatusOK, model.ConvertBatchResponse(rt))
}

func abortWithError(ctx *gin.Context, requestID string, err error) {
	ctx.Error(err)
	code, msg := model.ConvertError(err)
	if code == http.StatusServiceUnavailable {
		ctx.Header("Retry-After", retryAfter)
	}
	ctx.AbortWithStatusJSON(code, model.ErrorResponse{RequestID: requestID, Error: msg})
}
