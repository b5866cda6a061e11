//go:build !linux

package env

import (
	"errors"
	"runtime"

	"github.com/judgekit/go-executor/envexec"
	"go.uber.org/zap"
)

// NewBuilder returns error since the environment is only supported on linux
func NewBuilder(c Config, logger *zap.Logger) (envexec.Environment, map[string]any, error) {
	return nil, nil, errors.New("environment is not supported on this platform " + runtime.GOOS)
}
