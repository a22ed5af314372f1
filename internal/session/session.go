package session

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
	"github.com/san-kum/daesolve/internal/ida"
	"github.com/san-kum/daesolve/internal/linsol"
)

// Session is the immutable setup of one integration problem: the model,
// its dimensions, the time horizon and the configuration. It is safe to
// share across concurrently-active memories; all mutable state lives in
// [Memory].
type Session struct {
	model dae.Evaluator
	dims  dae.Dimensions
	t0    float64
	tf    float64
	opts  Options

	interp ida.InterpType
}

// New validates the configuration and builds a session over [t0, tf].
func New(model dae.Evaluator, dims dae.Dimensions, t0, tf float64, opts Options) (*Session, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", dae.ErrOption)
	}
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if tf <= t0 {
		return nil, fmt.Errorf("%w: empty horizon [%g, %g]", dae.ErrOption, t0, tf)
	}
	if err := opts.validate(dims); err != nil {
		return nil, err
	}
	interp, err := interpKind(opts.Interpolation)
	if err != nil {
		return nil, err
	}
	return &Session{
		model:  model,
		dims:   dims,
		t0:     t0,
		tf:     tf,
		opts:   opts,
		interp: interp,
	}, nil
}

// Dimensions returns the fixed problem sizes.
func (s *Session) Dimensions() dae.Dimensions { return s.dims }

// Horizon returns the integration interval.
func (s *Session) Horizon() (t0, tf float64) { return s.t0, s.tf }

func (s *Session) krylov() (linsol.Krylov, bool) {
	k, ok := s.opts.Linear.(linsol.Krylov)
	return k, ok
}

func krylovKind(k linsol.Kind) ida.KrylovKind {
	switch k {
	case linsol.BiCGStab:
		return ida.BiCGStab
	case linsol.TFQMR:
		return ida.TFQMR
	}
	return ida.GMRES
}
