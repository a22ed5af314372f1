package ida

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	maxICIters = 20
	icConvTol  = 1e-10
	icResTol   = 0.01
)

// CalcIC recovers consistent initial conditions: holding the differential
// states fixed, it solves F(t0, y, y') = 0 for the algebraic components of
// y and the differential components of y'. tscale is the first requested
// output time and is used to scale the initial derivative guess only.
func (e *Engine) CalcIC(tscale float64) Flag {
	if !e.initialized {
		return ErrMem
	}
	n := e.n

	// Unknown j maps to yp[j] for differential components and yy[j] for
	// algebraic ones.
	isDiff := func(i int) bool { return e.id == nil || e.id[i] != 0 }

	u := make([]float64, n)
	for i := 0; i < n; i++ {
		if isDiff(i) {
			u[i] = e.yp[i]
		} else {
			u[i] = e.yy[i]
		}
	}

	yy := append([]float64(nil), e.yy...)
	yp := append([]float64(nil), e.yp...)
	load := func(u []float64) {
		for i := 0; i < n; i++ {
			if isDiff(i) {
				yp[i] = u[i]
			} else {
				yy[i] = u[i]
			}
		}
	}

	f := make([]float64, n)
	fPert := make([]float64, n)
	eval := func(dst []float64) Flag {
		e.nre++
		code := e.res(e.t, yy, yp, dst)
		if code < 0 {
			return ErrResFail
		}
		if code > 0 {
			return ErrICFail
		}
		return Success
	}

	e.loadWeights()
	jac := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	var du mat.VecDense
	var lu mat.LU

	for iter := 0; iter < maxICIters; iter++ {
		load(u)
		if flag := eval(f); flag.Fatal() {
			return flag
		}
		if e.wrms(f, false) <= 1e-3*icResTol {
			// Already consistent.
			e.finishIC(yy, yp)
			return Success
		}

		// Finite-difference Jacobian with respect to the unknowns.
		for j := 0; j < n; j++ {
			orig := u[j]
			h := fdICStep(orig, tscale, isDiff(j))
			u[j] = orig + h
			load(u)
			if flag := eval(fPert); flag.Fatal() {
				return flag
			}
			u[j] = orig
			for i := 0; i < n; i++ {
				jac.Set(i, j, (fPert[i]-f[i])/h)
			}
		}
		load(u)

		lu.Factorize(jac)
		if lu.Cond() > 1e14 {
			return ErrICFail
		}
		for i := 0; i < n; i++ {
			rhs.SetVec(i, f[i])
		}
		if err := lu.SolveVecTo(&du, false, rhs); err != nil {
			return ErrICFail
		}

		dnorm := 0.0
		for i := 0; i < n; i++ {
			u[i] -= du.AtVec(i)
			dnorm = math.Max(dnorm, math.Abs(du.AtVec(i)))
		}
		if dnorm <= icConvTol*(1+maxAbs(u)) {
			load(u)
			if flag := eval(f); flag.Fatal() {
				return flag
			}
			if e.wrms(f, false) > icResTol {
				return ErrICFail
			}
			e.finishIC(yy, yp)
			return Success
		}
	}
	return ErrICFail
}

func (e *Engine) finishIC(yy, yp []float64) {
	copy(e.yy, yy)
	copy(e.yp, yp)
	e.qdotValid = false
	e.needSetup = true
}

// ConsistentIC copies the corrected state and derivative after a
// successful CalcIC.
func (e *Engine) ConsistentIC(yy, yp []float64) Flag {
	if !e.initialized {
		return ErrMem
	}
	copy(yy, e.yy)
	copy(yp, e.yp)
	return Success
}

func fdICStep(v, tscale float64, diff bool) float64 {
	h := fdICEps * math.Max(1, math.Abs(v))
	if diff && tscale != 0 {
		// Derivative unknowns scale with the horizon.
		h = math.Max(h, fdICEps/math.Abs(tscale))
	}
	return h
}

const fdICEps = 1.4901161193847656e-08

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
