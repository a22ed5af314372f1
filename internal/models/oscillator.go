package models

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
)

// Oscillator is a damped harmonic oscillator with the integrated
// squared displacement as quadrature and the full adjoint system for
// its gradient with respect to frequency and damping. Parameters enter
// through the parameter vector, so the adjoint sees them too.
type Oscillator struct {
	Omega float64
	Zeta  float64
}

func NewOscillator() *Oscillator {
	return &Oscillator{
		Omega: 2.0,
		Zeta:  0.1,
	}
}

func (o *Oscillator) GetParams() map[string]float64 {
	return map[string]float64{
		"omega": o.Omega,
		"zeta":  o.Zeta,
	}
}

func (o *Oscillator) SetParam(name string, value float64) error {
	switch name {
	case "omega":
		o.Omega = value
	case "zeta":
		o.Zeta = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

func (o *Oscillator) Problem() *Problem {
	dims := dae.Dimensions{NX: 2, NQ: 1, NRX: 2, NRQ: 2}
	model := &dae.FuncModel{
		Dims: dims,
		DAEF: func(t float64, x, z, par, ode, alg []float64) error {
			w, zt := par[0], par[1]
			ode[0] = x[1]
			ode[1] = -w*w*x[0] - 2*zt*w*x[1]
			return nil
		},
		QuadF: func(t float64, x, z, par, quad []float64) error {
			quad[0] = x[0] * x[0]
			return nil
		},
		DAEB: func(t float64, rx, rz, rp, x, z, par, rode, ralg []float64) error {
			w, zt := par[0], par[1]
			// Transposed dynamics plus the quadrature seed.
			rode[0] = -w*w*rx[1] + 2*rp[0]*x[0]
			rode[1] = rx[0] - 2*zt*w*rx[1]
			return nil
		},
		QuadB: func(t float64, rx, rz, rp, x, z, par, rquad []float64) error {
			w, zt := par[0], par[1]
			rquad[0] = rx[1] * (-2*w*x[0] - 2*zt*x[1])
			rquad[1] = rx[1] * (-2 * w * x[1])
			return nil
		},
		JacF: func(t float64, x, z, par []float64, cj float64, jac []float64) error {
			w, zt := par[0], par[1]
			jac[0] = -cj
			jac[1] = 1
			jac[2] = -w * w
			jac[3] = -2*zt*w - cj
			return nil
		},
		JacB: func(t float64, rx, rz, rp, x, z, par []float64, cj float64, jac []float64) error {
			w, zt := par[0], par[1]
			jac[0] = cj
			jac[1] = -w * w
			jac[2] = 1
			jac[3] = -2*zt*w + cj
			return nil
		},
	}
	return &Problem{
		Name:  "oscillator",
		Desc:  "damped oscillator with quadrature and adjoint",
		Dims:  dims,
		T0:    0,
		TF:    5,
		X0:    []float64{1, 0},
		P:     []float64{o.Omega, o.Zeta},
		RX0:   []float64{0, 0},
		RP:    []float64{1},
		Model: model,
	}
}
