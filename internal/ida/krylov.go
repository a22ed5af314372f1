package ida

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// KrylovKind selects the iterative method for the matrix-free linear solve.
type KrylovKind int

const (
	GMRES KrylovKind = iota
	BiCGStab
	TFQMR
)

func (k KrylovKind) String() string {
	switch k {
	case GMRES:
		return "gmres"
	case BiCGStab:
		return "bcgstab"
	case TFQMR:
		return "tfqmr"
	}
	return "unknown"
}

// JTimesFn computes jv = J*v at (t, yy, yp) with derivative-scaling
// coefficient cj.
type JTimesFn func(t float64, yy, yp, v, jv []float64, cj float64) int

// PSetupFn prepares the preconditioner at the current point.
type PSetupFn func(t float64, yy, yp []float64, cj float64) int

// PSolveFn applies the preconditioner in place to b.
type PSolveFn func(b []float64) int

// JTimesBFn, PSetupBFn and PSolveBFn are the backward counterparts; they
// additionally receive the interpolated forward state.
type JTimesBFn func(t float64, yy, yp, yyB, ypB, v, jv []float64, cj float64) int
type PSetupBFn func(t float64, yy, yp, yyB, ypB []float64, cj float64) int
type PSolveBFn func(b []float64) int

const (
	krylovEps      = 0.05 // linear tolerance as a fraction of the Newton tolerance
	krylovRestarts = 2
)

// AttachKrylov installs a matrix-free iterative linear solver using a
// Jacobian-times-vector callback and an optional preconditioner pair.
func (e *Engine) AttachKrylov(kind KrylovKind, maxl int, jt JTimesFn, ps PSetupFn, psol PSolveFn) Flag {
	if jt == nil {
		return ErrIllInput
	}
	if maxl <= 0 {
		maxl = 5
	}
	e.ls = &spils{kind: kind, maxl: maxl, n: e.n, jtimes: jt, psetup: ps, psolve: psol}
	return Success
}

// AttachKrylovB installs a matrix-free iterative solver on a backward
// problem.
func (e *Engine) AttachKrylovB(which int, kind KrylovKind, maxl int, jt JTimesBFn, ps PSetupBFn, psol PSolveBFn) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	if jt == nil {
		return ErrIllInput
	}
	wrappedJt := func(t float64, yyB, ypB, v, jv []float64, cj float64) int {
		if iflag := b.parent.InterpolateForward(t, b.fyy, b.fyp); iflag.Fatal() {
			b.interpFail = true
			return -1
		}
		return jt(t, b.fyy, b.fyp, yyB, ypB, v, jv, cj)
	}
	var wrappedPs PSetupFn
	if ps != nil {
		wrappedPs = func(t float64, yyB, ypB []float64, cj float64) int {
			if iflag := b.parent.InterpolateForward(t, b.fyy, b.fyp); iflag.Fatal() {
				b.interpFail = true
				return -1
			}
			return ps(t, b.fyy, b.fyp, yyB, ypB, cj)
		}
	}
	var wrappedPsol PSolveFn
	if psol != nil {
		wrappedPsol = PSolveFn(psol)
	}
	return b.eng.AttachKrylov(kind, maxl, wrappedJt, wrappedPs, wrappedPsol)
}

// spils is the scaled, preconditioned iterative linear solver. It solves
// the right-preconditioned system J*P⁻¹*u = b and returns x = P⁻¹*u
// in place of b.
type spils struct {
	kind   KrylovKind
	maxl   int
	n      int
	jtimes JTimesFn
	psetup PSetupFn
	psolve PSolveFn
}

func (s *spils) Setup(t float64, yy, yp []float64, cj float64) int {
	if s.psetup != nil {
		return s.psetup(t, yy, yp, cj)
	}
	return 0
}

func (s *spils) Solve(b []float64, t float64, yy, yp []float64, cj, cjratio float64) int {
	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		return 0
	}
	delta := krylovEps * newtonTol * bnorm

	atimes := func(v, jv []float64) int {
		if s.psolve != nil {
			tmp := append([]float64(nil), v...)
			if code := s.psolve(tmp); code != 0 {
				return code
			}
			return s.jtimes(t, yy, yp, tmp, jv, cj)
		}
		return s.jtimes(t, yy, yp, v, jv, cj)
	}

	var u []float64
	var code int
	switch s.kind {
	case BiCGStab:
		u, code = bicgstab(s.n, s.maxl*(krylovRestarts+1), atimes, b, delta)
	case TFQMR:
		u, code = tfqmr(s.n, s.maxl*(krylovRestarts+1), atimes, b, delta)
	default:
		u, code = gmres(s.n, s.maxl, krylovRestarts, atimes, b, delta)
	}
	if code != 0 {
		return code
	}
	if s.psolve != nil {
		if pcode := s.psolve(u); pcode != 0 {
			return pcode
		}
	}
	copy(b, u)
	return 0
}

// gmres solves A*x = b with restarted GMRES(m). It returns a positive code
// when the tolerance was not met, letting the Newton iteration retry with
// a smaller step.
func gmres(n, m, restarts int, atimes func(v, jv []float64) int, b []float64, delta float64) ([]float64, int) {
	x := make([]float64, n)
	r := append([]float64(nil), b...)
	w := make([]float64, n)

	for cycle := 0; cycle <= restarts; cycle++ {
		beta := floats.Norm(r, 2)
		if beta <= delta {
			return x, 0
		}
		v := make([][]float64, 1, m+1)
		v[0] = make([]float64, n)
		floats.AddScaledTo(v[0], v[0], 1/beta, r)

		h := make([][]float64, m+1)
		for i := range h {
			h[i] = make([]float64, m)
		}
		cs := make([]float64, m)
		sn := make([]float64, m)
		g := make([]float64, m+1)
		g[0] = beta

		k := 0
		for ; k < m; k++ {
			if code := atimes(v[k], w); code != 0 {
				return x, code
			}
			for i := 0; i <= k; i++ {
				h[i][k] = floats.Dot(v[i], w)
				floats.AddScaled(w, -h[i][k], v[i])
			}
			h[k+1][k] = floats.Norm(w, 2)
			if h[k+1][k] > 0 {
				vk := make([]float64, n)
				floats.AddScaledTo(vk, vk, 1/h[k+1][k], w)
				v = append(v, vk)
			}

			// Apply accumulated Givens rotations, then form a new one.
			for i := 0; i < k; i++ {
				tmp := cs[i]*h[i][k] + sn[i]*h[i+1][k]
				h[i+1][k] = -sn[i]*h[i][k] + cs[i]*h[i+1][k]
				h[i][k] = tmp
			}
			rho := math.Hypot(h[k][k], h[k+1][k])
			if rho == 0 {
				rho = 1e-300
			}
			cs[k] = h[k][k] / rho
			sn[k] = h[k+1][k] / rho
			h[k][k] = rho
			h[k+1][k] = 0
			g[k+1] = -sn[k] * g[k]
			g[k] *= cs[k]

			if math.Abs(g[k+1]) <= delta || len(v) <= k+1 {
				k++
				break
			}
		}

		// Back-substitute for the correction in the Krylov basis.
		ym := make([]float64, k)
		for i := k - 1; i >= 0; i-- {
			sum := g[i]
			for j := i + 1; j < k; j++ {
				sum -= h[i][j] * ym[j]
			}
			ym[i] = sum / h[i][i]
		}
		for i := 0; i < k; i++ {
			floats.AddScaled(x, ym[i], v[i])
		}

		// True residual for the next cycle.
		if code := atimes(x, w); code != 0 {
			return x, code
		}
		for i := 0; i < n; i++ {
			r[i] = b[i] - w[i]
		}
		if floats.Norm(r, 2) <= delta {
			return x, 0
		}
	}
	return x, 1
}

// bicgstab solves A*x = b with the stabilized bi-conjugate gradient method.
func bicgstab(n, maxIter int, atimes func(v, jv []float64) int, b []float64, delta float64) ([]float64, int) {
	x := make([]float64, n)
	r := append([]float64(nil), b...)
	rhat := append([]float64(nil), b...)
	p := make([]float64, n)
	v := make([]float64, n)
	s := make([]float64, n)
	t := make([]float64, n)

	rho := 1.0
	alpha := 1.0
	omega := 1.0

	for iter := 0; iter < maxIter; iter++ {
		rhoNew := floats.Dot(rhat, r)
		if rhoNew == 0 {
			return x, 1
		}
		if iter == 0 {
			copy(p, r)
		} else {
			beta := (rhoNew / rho) * (alpha / omega)
			for i := 0; i < n; i++ {
				p[i] = r[i] + beta*(p[i]-omega*v[i])
			}
		}
		rho = rhoNew
		if code := atimes(p, v); code != 0 {
			return x, code
		}
		den := floats.Dot(rhat, v)
		if den == 0 {
			return x, 1
		}
		alpha = rho / den
		for i := 0; i < n; i++ {
			s[i] = r[i] - alpha*v[i]
		}
		if floats.Norm(s, 2) <= delta {
			floats.AddScaled(x, alpha, p)
			return x, 0
		}
		if code := atimes(s, t); code != 0 {
			return x, code
		}
		tt := floats.Dot(t, t)
		if tt == 0 {
			return x, 1
		}
		omega = floats.Dot(t, s) / tt
		for i := 0; i < n; i++ {
			x[i] += alpha*p[i] + omega*s[i]
			r[i] = s[i] - omega*t[i]
		}
		if floats.Norm(r, 2) <= delta {
			return x, 0
		}
		if omega == 0 {
			return x, 1
		}
	}
	return x, 1
}

// tfqmr solves A*x = b with Freund's transpose-free QMR method.
func tfqmr(n, maxIter int, atimes func(v, jv []float64) int, b []float64, delta float64) ([]float64, int) {
	x := make([]float64, n)
	r := append([]float64(nil), b...)
	w := append([]float64(nil), r...)
	u := append([]float64(nil), r...)
	rstar := append([]float64(nil), r...)
	d := make([]float64, n)
	au := make([]float64, n)
	auOld := make([]float64, n)
	v := make([]float64, n)
	uNext := make([]float64, n)

	if code := atimes(u, au); code != 0 {
		return x, code
	}
	copy(v, au)

	tau := floats.Norm(r, 2)
	theta := 0.0
	eta := 0.0
	rho := floats.Dot(rstar, r)
	if rho == 0 {
		return x, 1
	}

	alpha := 0.0
	for m := 0; m < 2*maxIter; m++ {
		if m%2 == 0 {
			sigma := floats.Dot(rstar, v)
			if sigma == 0 {
				return x, 1
			}
			alpha = rho / sigma
			for i := 0; i < n; i++ {
				uNext[i] = u[i] - alpha*v[i]
			}
		}

		floats.AddScaled(w, -alpha, au)
		cd := theta * theta * eta / alpha
		for i := 0; i < n; i++ {
			d[i] = u[i] + cd*d[i]
		}
		theta = floats.Norm(w, 2) / tau
		c := 1 / math.Sqrt(1+theta*theta)
		tau = tau * theta * c
		eta = c * c * alpha
		floats.AddScaled(x, eta, d)
		if tau*math.Sqrt(float64(m+1)) <= delta {
			return x, 0
		}

		if m%2 == 0 {
			copy(u, uNext)
			copy(auOld, au)
			if code := atimes(u, au); code != 0 {
				return x, code
			}
		} else {
			rhoNew := floats.Dot(rstar, w)
			if rhoNew == 0 {
				return x, 1
			}
			beta := rhoNew / rho
			rho = rhoNew
			for i := 0; i < n; i++ {
				u[i] = w[i] + beta*u[i]
			}
			copy(auOld, au)
			if code := atimes(u, au); code != 0 {
				return x, code
			}
			for i := 0; i < n; i++ {
				v[i] = au[i] + beta*(auOld[i]+beta*v[i])
			}
		}
	}
	return x, 1
}
