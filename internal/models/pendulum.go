package models

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
)

// Pendulum is the planar pendulum in Cartesian coordinates with the
// rod constraint reduced to index 1. States are position and velocity
// (x, y, u, v); the rod tension lambda is algebraic.
type Pendulum struct {
	Mass    float64
	Length  float64
	Gravity float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{
		Mass:    1.0,
		Length:  1.0,
		Gravity: 9.81,
	}
}

func (p *Pendulum) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":    p.Mass,
		"length":  p.Length,
		"gravity": p.Gravity,
	}
}

func (p *Pendulum) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		p.Mass = value
	case "length":
		p.Length = value
	case "gravity":
		p.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// Problem builds the integration case: the pendulum starts horizontal
// and at rest, and accumulates twice the specific kinetic energy as a
// quadrature.
func (p *Pendulum) Problem() *Problem {
	m, g := p.Mass, p.Gravity
	dims := dae.Dimensions{NX: 4, NZ: 1, NQ: 1}
	model := &dae.FuncModel{
		Dims: dims,
		DAEF: func(t float64, x, z, par, ode, alg []float64) error {
			px, py, u, v := x[0], x[1], x[2], x[3]
			lam := z[0]
			ode[0] = u
			ode[1] = v
			ode[2] = -lam * px / m
			ode[3] = -lam*py/m - g
			// Acceleration-level rod constraint.
			alg[0] = u*u + v*v - lam*(px*px+py*py)/m - g*py
			return nil
		},
		QuadF: func(t float64, x, z, par, quad []float64) error {
			quad[0] = x[2]*x[2] + x[3]*x[3]
			return nil
		},
		JacF: func(t float64, x, z, par []float64, cj float64, jac []float64) error {
			px, py, u, v := x[0], x[1], x[2], x[3]
			lam := z[0]
			for i := range jac {
				jac[i] = 0
			}
			// Rows follow the residual ordering, columns [x y u v lam].
			jac[0*5+0] = -cj
			jac[0*5+2] = 1
			jac[1*5+1] = -cj
			jac[1*5+3] = 1
			jac[2*5+0] = -lam / m
			jac[2*5+2] = -cj
			jac[2*5+4] = -px / m
			jac[3*5+1] = -lam / m
			jac[3*5+3] = -cj
			jac[3*5+4] = -py / m
			jac[4*5+0] = -2 * lam * px / m
			jac[4*5+1] = -2*lam*py/m - g
			jac[4*5+2] = 2 * u
			jac[4*5+3] = 2 * v
			jac[4*5+4] = -(px*px + py*py) / m
			return nil
		},
	}
	return &Problem{
		Name:  "pendulum",
		Desc:  "planar pendulum, Cartesian coordinates, index-1 constraint",
		Dims:  dims,
		T0:    0,
		TF:    10,
		X0:    []float64{p.Length, 0, 0, 0},
		Z0:    []float64{0},
		Model: model,
	}
}
