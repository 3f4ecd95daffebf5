package script

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when an evaluation exceeds its limit.
	ErrTimeout = errors.New("script: evaluation timed out")
	// ErrSuperseded is returned to a caller whose evaluation was overtaken
	// by a newer one.
	ErrSuperseded = errors.New("script: evaluation superseded by newer request")
)

// evalResult passes evaluation results through channels.
type evalResult struct {
	design *Design
	errors []EvalError
	err    error
}

// waitWithTimeout waits for a result from ch, but returns a timeout error
// if the evaluation exceeds timeout. A result whose generation is no
// longer current is discarded.
//
// On timeout the goroutine may still be running; the generation check
// ensures its result is discarded when it eventually completes.
func waitWithTimeout(ch <-chan evalResult, gen uint64, timeout time.Duration, current func() uint64) (*Design, []EvalError, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if gen != current() {
			return nil, nil, ErrSuperseded
		}
		return res.design, res.errors, res.err

	case <-timer.C:
		return nil, nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
