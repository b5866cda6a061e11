package model

import (
	"context"
	"errors"
	"net/http"

	"github.com/judgekit/go-executor/executor"
	"github.com/judgekit/go-executor/worker"
)

// StatusClientClosedRequest is used when the client went away before the
// result was ready
const StatusClientClosedRequest = 499

// ConvertError maps executor errors to http status and message. Validation
// errors are reported as is, infrastructure faults only as a generic message.
func ConvertError(err error) (int, string) {
	switch {
	case errors.Is(err, executor.ErrValidation), errors.Is(err, executor.ErrUnsupportedLanguage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, executor.ErrOverload), errors.Is(err, worker.ErrShutdown):
		return http.StatusServiceUnavailable, "service busy, try again later"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusClientClosedRequest, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error, try again later"
	}
}
