package models

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
)

// Robertson is the classic stiff chemical kinetics problem in its
// semi-explicit DAE form: two reacting species plus a conservation
// constraint supplying the third.
type Robertson struct {
	K1 float64
	K2 float64
	K3 float64
}

func NewRobertson() *Robertson {
	return &Robertson{
		K1: 0.04,
		K2: 1e4,
		K3: 3e7,
	}
}

func (r *Robertson) GetParams() map[string]float64 {
	return map[string]float64{
		"k1": r.K1,
		"k2": r.K2,
		"k3": r.K3,
	}
}

func (r *Robertson) SetParam(name string, value float64) error {
	switch name {
	case "k1":
		r.K1 = value
	case "k2":
		r.K2 = value
	case "k3":
		r.K3 = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

func (r *Robertson) Problem() *Problem {
	k1, k2, k3 := r.K1, r.K2, r.K3
	dims := dae.Dimensions{NX: 2, NZ: 1}
	model := &dae.FuncModel{
		Dims: dims,
		DAEF: func(t float64, x, z, par, ode, alg []float64) error {
			y1, y2 := x[0], x[1]
			y3 := z[0]
			ode[0] = -k1*y1 + k2*y2*y3
			ode[1] = k1*y1 - k2*y2*y3 - k3*y2*y2
			alg[0] = y1 + y2 + y3 - 1
			return nil
		},
		JacF: func(t float64, x, z, par []float64, cj float64, jac []float64) error {
			y2 := x[1]
			y3 := z[0]
			for i := range jac {
				jac[i] = 0
			}
			jac[0*3+0] = -k1 - cj
			jac[0*3+1] = k2 * y3
			jac[0*3+2] = k2 * y2
			jac[1*3+0] = k1
			jac[1*3+1] = -k2*y3 - 2*k3*y2 - cj
			jac[1*3+2] = -k2 * y2
			jac[2*3+0] = 1
			jac[2*3+1] = 1
			jac[2*3+2] = 1
			return nil
		},
	}
	return &Problem{
		Name:  "robertson",
		Desc:  "stiff chemical kinetics with a conservation constraint",
		Dims:  dims,
		T0:    0,
		TF:    40,
		X0:    []float64{1, 0},
		Z0:    []float64{0},
		Model: model,
	}
}
