package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/ctxlog"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

var errAttemptTimeout = errors.New("attempt timed out")

// evaluate calls the node's catalog function, retrying transient failures
// and timeouts with exponential backoff. Kernel errors are final.
// Cancelling ctx does not abort the call: superseded results are dropped
// by generation instead.
func (e *Engine) evaluate(ctx context.Context, f *flight, entry *catalog.Entry, in catalog.Inputs, p catalog.Params) (catalog.Outputs, error) {
	ctx = ctxlog.WithLogger(context.WithoutCancel(ctx), e.log.With("nodeID", f.node, "type", entry.TypeID))
	log := ctxlog.FromContext(ctx)
	env := catalog.Env{
		Geometry: countingBridge{Bridge: e.bridge, calls: e.metrics.kernelCalls},
		NodeID:   string(f.node),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff

	attempt := 0
	op := func() (catalog.Outputs, error) {
		attempt++
		out, err := callWithTimeout(ctx, e.cfg.KernelTimeout, func(actx context.Context) (catalog.Outputs, error) {
			return entry.Evaluate(actx, env, in, p)
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, errAttemptTimeout), kernel.IsTransient(err):
			if attempt < e.cfg.MaxAttempts {
				e.metrics.retries.Inc()
				log.Warn("Retrying kernel call", "attempt", attempt, "error", err)
			}
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)))
	// Retry returns the wrapper when the last allowed try was permanent.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if errors.Is(err, errAttemptTimeout) {
		return nil, &TimeoutError{Node: f.node, Op: entry.TypeID, Timeout: e.cfg.KernelTimeout}
	}
	return out, err
}

// callWithTimeout runs fn with a deadline and stops waiting when it
// passes, even if fn ignores its context. A late result is discarded.
// Panics in fn become kernel errors.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: kernel.Errorf("evaluate", kernel.CodePanic, "%v", r)}
			}
		}()
		v, err := fn(actx)
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case res := <-ch:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && actx.Err() != nil {
			return zero, errAttemptTimeout
		}
		return res.v, res.err
	case <-actx.Done():
		return zero, errAttemptTimeout
	}
}

// countingBridge counts requests by op.
type countingBridge struct {
	kernel.Bridge
	calls *prometheus.CounterVec
}

func (b countingBridge) Execute(ctx context.Context, req kernel.Request) (kernel.Response, error) {
	b.calls.WithLabelValues(req.Op).Inc()
	return b.Bridge.Execute(ctx, req)
}
