// Package task runs at most one long operation at a time. Starting a new run
// aborts the one in flight; Cancel aborts it on request. Cancellation is
// cooperative: bodies must watch the context they are given.
package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSuperseded is the cancellation cause of a run replaced by a newer one.
	ErrSuperseded = errors.New("task superseded by a newer run")
	// ErrCanceled is the cancellation cause of a run aborted through Cancel.
	ErrCanceled = errors.New("task canceled")
)

type Runner struct {
	mu     sync.Mutex
	cancel context.CancelCauseFunc
	gen    uint64
}

// Run executes fn, first aborting any run already in flight. If the run's
// context was cancelled, Run returns the cancellation cause even when fn
// completed, so late results are never mistaken for success.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel(ErrSuperseded)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	r.gen++
	gen := r.gen
	r.cancel = cancel
	r.mu.Unlock()

	err := fn(runCtx)

	r.mu.Lock()
	if r.gen == gen {
		r.cancel = nil
	}
	r.mu.Unlock()

	cause := context.Cause(runCtx)
	cancel(nil)
	if cause != nil {
		return cause
	}
	return err
}

// Cancel aborts the run in flight. It reports whether there was one.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel(ErrCanceled)
	r.cancel = nil
	return true
}

// Active reports whether a run is in flight.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Do is Run for bodies that produce a value. The value is only returned when
// the run was neither cancelled nor failed.
func Do[T any](ctx context.Context, r *Runner, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Sleep waits for d or until ctx is done, returning the cancellation cause
// in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-time.After(d):
		return nil
	}
}

// Retry calls fn until it succeeds or ctx is done. The wait between attempts
// starts at initial and doubles up to max. onErr, when set, sees every failed
// attempt (1-based).
func Retry(ctx context.Context, initial, max time.Duration, fn func(ctx context.Context) error, onErr func(attempt int, err error)) error {
	wait := initial
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if onErr != nil {
			onErr(attempt, err)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
		wait = min(wait*2, max)
	}
}

// IsAbort reports whether err is a cancellation of any kind.
func IsAbort(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled)
}
