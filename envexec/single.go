package envexec

import (
	"context"
	"errors"
)

// ErrLaunch is returned when the process could not be started, e.g. the
// toolchain binary is missing or not executable
var ErrLaunch = errors.New("launch failed")

// Single defines the running instruction to run single
// exec in restricted environment
type Single struct {
	Cmd *Cmd
}

// Run starts the cmd and returns exec results
func (s *Single) Run(ctx context.Context) (result Result, err error) {
	// prepare files
	fd, pipeToCollect, err := prepareCmdFd(s.Cmd)
	if err != nil {
		result.Status = StatusFileError
		result.Error = err.Error()
		return result, nil
	}

	result, err = runSingle(ctx, s.Cmd, fd, pipeToCollect)
	if err != nil {
		result.Status = StatusInternalError
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}
