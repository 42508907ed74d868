package simulate

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned by a run that a newer run replaced.
var ErrSuperseded = errors.New("simulate: run superseded by a newer request")

// Runner lets only the latest simulation request deliver a result. Starting a
// run cancels the one in flight; the older run's output is discarded.
type Runner struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Run executes fn under a context that is cancelled when a newer Run starts.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) (Result, error)) (Result, error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	res, err := fn(runCtx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return Result{}, ErrSuperseded
	}
	r.cancel = nil
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
