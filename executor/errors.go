package executor

import (
	"errors"

	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/language"
	"github.com/judgekit/go-executor/worker"
	"github.com/judgekit/go-executor/workspace"
)

// Errors returned by Execute, per job outcomes are reported in Result instead
var (
	// ErrValidation means the request is malformed, e.g. empty source
	ErrValidation = errors.New("invalid request")

	// ErrUnsupportedLanguage means no toolchain is registered for the language
	ErrUnsupportedLanguage = language.ErrUnsupportedLanguage

	// ErrOverload means both the worker slots and the queue are full
	ErrOverload = worker.ErrOverload

	// ErrResource means the workspace could not be allocated or written
	ErrResource = workspace.ErrResource

	// ErrLaunch means a toolchain binary could not be executed
	ErrLaunch = envexec.ErrLaunch
)
