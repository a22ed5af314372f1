package session

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
	"github.com/san-kum/daesolve/internal/ida"
	"github.com/san-kum/daesolve/internal/linsol"
)

// Options configures a session at setup time. Invalid values are rejected
// by New, never at solve time.
type Options struct {
	RelTol float64
	AbsTol float64

	// AbsTolV is a per-component absolute tolerance vector; it takes
	// precedence over AbsTol and must have length nx+nz.
	AbsTolV []float64

	// FsensAbsTolV is the per-component tolerance vector for forward
	// sensitivities; only meaningful when the problem carries sensitivity
	// directions.
	FsensAbsTolV []float64

	MaxNumSteps int
	MaxOrder    int

	// MaxStepSize caps the internal step size; zero means unlimited.
	MaxStepSize float64

	// SuppressAlgebraic excludes algebraic components from local error
	// control.
	SuppressAlgebraic bool

	// CalcIC enables consistent-initial-condition recovery on Reset.
	CalcIC bool

	// CalcICB enables the recovery for the backward pass; nil defaults to
	// CalcIC.
	CalcICB *bool

	// FirstTime is the consistent-IC target time as a fraction of the
	// horizon, in (0, 1].
	FirstTime float64

	// CJScaling rescales direct-solve corrections by 2/(1+cjratio) when
	// the derivative-scaling coefficient changed since the factorization.
	CJScaling bool

	// ExtraFsensCalcIC runs an additional consistency pass with
	// sensitivities disabled.
	ExtraFsensCalcIC bool

	// InitXdot is the initial guess for the differential state
	// derivatives; its length must equal nx.
	InitXdot []float64

	// StopAtEnd forbids integrating past the trajectory end time.
	StopAtEnd bool

	// QuadErrCon includes quadratures in step-size error control.
	QuadErrCon bool

	StepsPerCheckpoint int
	Interpolation      string // "hermite" or "polynomial"

	// Linear selects the Newton linear solver attachment.
	Linear linsol.Strategy
}

// DefaultOptions mirrors the engine-facing defaults: consistent-IC
// recovery on, stop at the trajectory end, direct linear solver.
func DefaultOptions() Options {
	return Options{
		RelTol:             1e-6,
		AbsTol:             1e-8,
		MaxNumSteps:        10000,
		MaxOrder:           2,
		CalcIC:             true,
		FirstTime:          1.0,
		StopAtEnd:          true,
		StepsPerCheckpoint: 20,
		Interpolation:      "hermite",
		Linear:             linsol.Direct{},
	}
}

func (o *Options) validate(d dae.Dimensions) error {
	if o.RelTol <= 0 {
		return fmt.Errorf("%w: reltol must be positive, got %g", dae.ErrOption, o.RelTol)
	}
	if o.AbsTol <= 0 {
		return fmt.Errorf("%w: abstol must be positive, got %g", dae.ErrOption, o.AbsTol)
	}
	if o.AbsTolV != nil && len(o.AbsTolV) != d.StateLen() {
		return fmt.Errorf("%w: abstolv has length %d, expecting %d",
			dae.ErrOption, len(o.AbsTolV), d.StateLen())
	}
	if o.FsensAbsTolV != nil && len(o.FsensAbsTolV) != d.StateLen() {
		return fmt.Errorf("%w: fsens_abstolv has length %d, expecting %d",
			dae.ErrOption, len(o.FsensAbsTolV), d.StateLen())
	}
	if o.InitXdot != nil && len(o.InitXdot) != d.NX {
		return fmt.Errorf("%w: init_xdot has length %d, expecting %d",
			dae.ErrOption, len(o.InitXdot), d.NX)
	}
	if o.MaxNumSteps <= 0 {
		return fmt.Errorf("%w: max_num_steps must be positive", dae.ErrOption)
	}
	if o.MaxOrder < 1 || o.MaxOrder > 2 {
		return fmt.Errorf("%w: max_order must be 1 or 2, got %d", dae.ErrOption, o.MaxOrder)
	}
	if o.MaxStepSize < 0 {
		return fmt.Errorf("%w: max_step_size must be non-negative", dae.ErrOption)
	}
	if o.FirstTime <= 0 || o.FirstTime > 1 {
		return fmt.Errorf("%w: first_time must be in (0,1], got %g", dae.ErrOption, o.FirstTime)
	}
	if o.StepsPerCheckpoint <= 0 {
		return fmt.Errorf("%w: steps_per_checkpoint must be positive", dae.ErrOption)
	}
	if _, err := interpKind(o.Interpolation); err != nil {
		return err
	}
	if o.Linear == nil {
		return fmt.Errorf("%w: no linear solver strategy", dae.ErrOption)
	}
	if k, ok := o.Linear.(linsol.Krylov); ok {
		if k.MaxDim < 0 {
			return fmt.Errorf("%w: max_krylov must be non-negative", dae.ErrOption)
		}
	}
	return nil
}

func (o *Options) calcICB() bool {
	if o.CalcICB != nil {
		return *o.CalcICB
	}
	return o.CalcIC
}

func interpKind(s string) (ida.InterpType, error) {
	switch s {
	case "", "hermite":
		return ida.Hermite, nil
	case "polynomial":
		return ida.Polynomial, nil
	}
	return ida.Hermite, fmt.Errorf("%w: unknown interpolation %q", dae.ErrOption, s)
}
