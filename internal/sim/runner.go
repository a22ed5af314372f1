package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/daesolve/internal/models"
	"github.com/san-kum/daesolve/internal/session"
)

// Runner drives one problem through a session over a uniform output
// grid.
type Runner struct {
	problem   *models.Problem
	opts      session.Options
	outputs   int
	observers []Observer
}

func New(problem *models.Problem, opts session.Options, outputs int) (*Runner, error) {
	if outputs < 1 {
		return nil, fmt.Errorf("outputs must be positive, got %d", outputs)
	}
	return &Runner{problem: problem, opts: opts, outputs: outputs}, nil
}

func (r *Runner) AddObserver(obs Observer) { r.observers = append(r.observers, obs) }

// Run integrates the full horizon and samples the state at every grid
// point. The context is checked between output points, so pending steps
// finish before cancellation takes effect.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	p := r.problem
	s, err := session.New(p.Model, p.Dims, p.T0, p.TF, r.opts)
	if err != nil {
		return nil, err
	}
	m, err := s.NewMemory()
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if err := m.Reset(p.T0, p.X0, p.Z0, p.P); err != nil {
		return nil, err
	}

	res := &Result{
		Times: make([]float64, 0, r.outputs+1),
		X:     make([][]float64, 0, r.outputs+1),
		Z:     make([][]float64, 0, r.outputs+1),
		Q:     make([][]float64, 0, r.outputs+1),
	}
	x := make([]float64, p.Dims.NX)
	z := make([]float64, p.Dims.NZ)
	q := make([]float64, p.Dims.NQ)

	h := (p.TF - p.T0) / float64(r.outputs)
	for i := 0; i <= r.outputs; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		t := p.T0 + float64(i)*h
		if i == r.outputs {
			t = p.TF
		}
		if err := m.Advance(t, x, z, q); err != nil {
			return res, err
		}
		res.Times = append(res.Times, t)
		res.X = append(res.X, clone(x))
		res.Z = append(res.Z, clone(z))
		res.Q = append(res.Q, clone(q))

		for _, obs := range r.observers {
			if !obs(t, x, z, q) {
				res.Stats = m.ForwardStats()
				res.Checkpoints = m.Checkpoints()
				return res, nil
			}
		}
	}
	res.Stats = m.ForwardStats()
	res.Checkpoints = m.Checkpoints()
	return res, nil
}

// RunAdjoint integrates forward over the full horizon, seeds the
// backward problem at the end time and sweeps it back to the start.
func (r *Runner) RunAdjoint(ctx context.Context) (*Result, *AdjointResult, error) {
	p := r.problem
	if !p.HasBackward() {
		return nil, nil, fmt.Errorf("model %s defines no adjoint", p.Name)
	}
	s, err := session.New(p.Model, p.Dims, p.T0, p.TF, r.opts)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.NewMemory()
	if err != nil {
		return nil, nil, err
	}
	defer m.Close()

	if err := m.Reset(p.T0, p.X0, p.Z0, p.P); err != nil {
		return nil, nil, err
	}

	fwd := &Result{}
	x := make([]float64, p.Dims.NX)
	z := make([]float64, p.Dims.NZ)
	q := make([]float64, p.Dims.NQ)
	if err := m.Advance(p.TF, x, z, q); err != nil {
		return nil, nil, err
	}
	fwd.Times = []float64{p.TF}
	fwd.X = [][]float64{clone(x)}
	fwd.Z = [][]float64{clone(z)}
	fwd.Q = [][]float64{clone(q)}
	fwd.Stats = m.ForwardStats()
	fwd.Checkpoints = m.Checkpoints()

	if err := m.ResetB(p.TF, p.RX0, p.RZ0, p.RP); err != nil {
		return fwd, nil, err
	}

	adj := &AdjointResult{
		Times: make([]float64, 0, r.outputs+1),
		RX:    make([][]float64, 0, r.outputs+1),
	}
	rx := make([]float64, p.Dims.NRX)
	rq := make([]float64, p.Dims.NRQ)

	h := (p.TF - p.T0) / float64(r.outputs)
	for i := 0; i <= r.outputs; i++ {
		select {
		case <-ctx.Done():
			return fwd, adj, ctx.Err()
		default:
		}

		t := p.TF - float64(i)*h
		if i == r.outputs {
			t = p.T0
		}
		if err := m.Retreat(t, rx, nil, rq); err != nil {
			return fwd, adj, err
		}
		adj.Times = append(adj.Times, t)
		adj.RX = append(adj.RX, clone(rx))
	}
	adj.RQ = clone(rq)
	adj.Stats = m.BackwardStats()
	return fwd, adj, nil
}
