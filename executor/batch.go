package executor

import (
	"context"
	"fmt"

	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/language"
	"go.uber.org/zap"
)

// BatchRequest runs one program against several inputs
type BatchRequest struct {
	Language string
	Source   string
	Inputs   []string
	Limits   Limits

	// StopOnFailure skips the remaining inputs after the first run that
	// is not accepted
	StopOnFailure bool
}

// BatchResult has one result per input that was run, in input order
type BatchResult struct {
	CompileError  *string
	CompileStatus envexec.Status
	Results       []*Result
}

// ExecuteBatch compiles once and runs the program against every input inside
// the same worker slot and workspace. Each run has its own limits.
func (e *Executor) ExecuteBatch(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	lang, limits, err := e.prepare(req.Language, req.Source, req.Limits)
	if err != nil {
		return nil, err
	}
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no input", ErrValidation)
	}

	var (
		res    *BatchResult
		jobErr error
	)
	err = e.submit(ctx, func(ctx context.Context) {
		res, jobErr = e.executeBatch(ctx, lang, req, limits)
	})
	if err != nil {
		return nil, err
	}
	return res, jobErr
}

func (e *Executor) executeBatch(ctx context.Context, lang language.Language, req *BatchRequest, limits Limits) (*BatchResult, error) {
	ws, err := e.workspace.Create()
	if err != nil {
		return nil, err
	}
	defer ws.Destroy()

	logger := e.logger.With(zap.String("workspace", ws.ID), zap.String("language", lang.Name()))
	logger.Debug("Job started", zap.Int("inputs", len(req.Inputs)))

	if _, err := ws.WriteSource(lang.SourceFile(), []byte(req.Source)); err != nil {
		return nil, err
	}

	ce, status, err := e.compile(ctx, lang, ws)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	br := &BatchResult{CompileError: ce, CompileStatus: status}
	if ce != nil {
		logger.Debug("Compile failed", zap.Stringer("status", status))
		return br, nil
	}

	br.Results = make([]*Result, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		if _, err := ws.WriteInput([]byte(input)); err != nil {
			return nil, err
		}
		r, err := e.step(ctx, lang, StepRun, lang.RunInvocation(ws), ws.InputPath, limits, lang.RelaxedMemory())
		if err != nil {
			return nil, err
		}
		// the process was killed because the caller gave up
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		br.Results = append(br.Results, newResult(r))
		if req.StopOnFailure && r.Status != envexec.StatusAccepted {
			break
		}
	}
	return br, nil
}
