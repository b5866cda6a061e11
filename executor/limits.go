package executor

import (
	"fmt"

	"github.com/judgekit/go-executor/language"
)

// Limits are the resource limits of a step, zero fields take the language
// defaults
type Limits = language.Limits

// resolveLimits applies the requested limits over the language defaults and
// clamps them to the ceiling. The wall clock limit is never below the cpu
// limit.
func resolveLimits(defaults, req, ceiling Limits) (Limits, error) {
	if req.CPUTime < 0 || req.WallTime < 0 {
		return Limits{}, fmt.Errorf("%w: negative time limit", ErrValidation)
	}
	l := defaults.Override(req)
	l.CPUTime = clamp(l.CPUTime, ceiling.CPUTime)
	l.Memory = clamp(l.Memory, ceiling.Memory)
	l.Output = clamp(l.Output, ceiling.Output)

	l.WallTime = max(l.WallTime, l.CPUTime)
	l.WallTime = clamp(l.WallTime, ceiling.WallTime)
	if l.WallTime > 0 {
		l.CPUTime = min(l.CPUTime, l.WallTime)
	}
	return l, nil
}

// clamp limits v to ceiling, a zero value takes the ceiling and a zero
// ceiling means unlimited
func clamp[T ~int64 | ~uint64](v, ceiling T) T {
	if ceiling == 0 {
		return v
	}
	if v == 0 || v > ceiling {
		return ceiling
	}
	return v
}
