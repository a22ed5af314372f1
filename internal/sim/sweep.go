package sim

import (
	"context"
	"sync"

	"github.com/san-kum/daesolve/internal/models"
	"github.com/san-kum/daesolve/internal/session"
)

// Sweep runs the same problem once per parameter set, each run on its
// own memory so they proceed in parallel.
type Sweep struct {
	build   func(i int) *models.Problem
	opts    session.Options
	outputs int
	n       int
}

func NewSweep(n int, build func(i int) *models.Problem, opts session.Options, outputs int) *Sweep {
	return &Sweep{build: build, opts: opts, outputs: outputs, n: n}
}

func (s *Sweep) Run(ctx context.Context) ([]*Result, error) {
	results := make([]*Result, s.n)
	errs := make([]error, s.n)

	var wg sync.WaitGroup
	for i := 0; i < s.n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := New(s.build(idx), s.opts, s.outputs)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = r.Run(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
