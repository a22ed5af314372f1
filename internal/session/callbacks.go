package session

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/daesolve/internal/dae"
)

// callbackCode maps a model-evaluation error to an engine return code:
// recoverable errors become a positive code (the engine may retry with a
// smaller step), anything else is reported and returned as fatal.
func callbackCode(name string, err error) int {
	if err == nil {
		return 0
	}
	if dae.IsRecoverable(err) {
		return 1
	}
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
	return -1
}

// resF evaluates the forward residual: the model's right hand side minus
// the differential state derivative.
func (m *Memory) resF(t float64, yy, yp, rr []float64) int {
	nx := m.s.dims.NX
	m.tbuf[0] = t
	m.argF[0] = yy[:nx]
	m.argF[1] = yy[nx:]
	m.argF[2] = m.p
	m.argF[3] = m.tbuf
	m.resF2[0] = rr[:nx]
	m.resF2[1] = rr[nx:]
	if err := m.s.model.Eval(dae.FnDAEF, m.argF, m.resF2); err != nil {
		return callbackCode("daeF", err)
	}
	floats.AddScaled(rr[:nx], -1, yp[:nx])
	return 0
}

// quadF evaluates the forward quadrature rate.
func (m *Memory) quadF(t float64, yy, yp, qdot []float64) int {
	nx := m.s.dims.NX
	m.tbuf[0] = t
	m.argF[0] = yy[:nx]
	m.argF[1] = yy[nx:]
	m.argF[2] = m.p
	m.argF[3] = m.tbuf
	m.resF2[0] = qdot
	m.resF2[1] = nil
	if err := m.s.model.Eval(dae.FnQuadF, m.argF[:4], m.resF2[:1]); err != nil {
		return callbackCode("quadF", err)
	}
	return 0
}

// resB evaluates the backward residual plus the backward state derivative;
// the forward trajectory at t arrives interpolated from checkpoints.
func (m *Memory) resB(t float64, yy, yp, yyB, ypB, rrB []float64) int {
	nx, nrx := m.s.dims.NX, m.s.dims.NRX
	m.tbuf[0] = t
	m.argB[0] = yyB[:nrx]
	m.argB[1] = yyB[nrx:]
	m.argB[2] = m.rp
	m.argB[3] = yy[:nx]
	m.argB[4] = yy[nx:]
	m.argB[5] = m.p
	m.argB[6] = m.tbuf
	m.resB2[0] = rrB[:nrx]
	m.resB2[1] = rrB[nrx:]
	if err := m.s.model.Eval(dae.FnDAEB, m.argB, m.resB2); err != nil {
		return callbackCode("daeB", err)
	}
	floats.AddScaled(rrB[:nrx], 1, ypB[:nrx])
	return 0
}

// quadB evaluates the backward quadrature rate, negated to match the
// adjoint convention.
func (m *Memory) quadB(t float64, yy, yp, yyB, ypB, qdot []float64) int {
	nx, nrx := m.s.dims.NX, m.s.dims.NRX
	m.tbuf[0] = t
	m.argB[0] = yyB[:nrx]
	m.argB[1] = yyB[nrx:]
	m.argB[2] = m.rp
	m.argB[3] = yy[:nx]
	m.argB[4] = yy[nx:]
	m.argB[5] = m.p
	m.argB[6] = m.tbuf
	m.resB2[0] = qdot
	m.resB2[1] = nil
	if err := m.s.model.Eval(dae.FnQuadB, m.argB, m.resB2[:1]); err != nil {
		return callbackCode("quadB", err)
	}
	floats.Scale(-1, qdot)
	return 0
}

// jtimesF computes the forward Jacobian-vector product, subtracting the
// cj-scaled direction on the differential block.
func (m *Memory) jtimesF(t float64, yy, yp, v, jv []float64, cj float64) int {
	nx := m.s.dims.NX
	m.tbuf[0] = t
	m.argJtF[0] = m.tbuf
	m.argJtF[1] = yy[:nx]
	m.argJtF[2] = yy[nx:]
	m.argJtF[3] = m.p
	m.argJtF[4] = v[:nx]
	m.argJtF[5] = v[nx:]
	m.resJtF[0] = jv[:nx]
	m.resJtF[1] = jv[nx:]
	if err := m.s.model.Eval(dae.FnJTimesF, m.argJtF, m.resJtF); err != nil {
		return callbackCode("jtimesF", err)
	}
	floats.AddScaled(jv[:nx], -cj, v[:nx])
	return 0
}

// jtimesB computes the backward Jacobian-vector product, adding the
// cj-scaled direction on the differential block (sign flips for the
// backward Jacobian).
func (m *Memory) jtimesB(t float64, yy, yp, yyB, ypB, v, jv []float64, cj float64) int {
	nx, nrx := m.s.dims.NX, m.s.dims.NRX
	m.tbuf[0] = t
	m.argJtB[0] = m.tbuf
	m.argJtB[1] = yy[:nx]
	m.argJtB[2] = yy[nx:]
	m.argJtB[3] = m.p
	m.argJtB[4] = yyB[:nrx]
	m.argJtB[5] = yyB[nrx:]
	m.argJtB[6] = m.rp
	m.argJtB[7] = v[:nrx]
	m.argJtB[8] = v[nrx:]
	m.resJtB[0] = jv[:nrx]
	m.resJtB[1] = jv[nrx:]
	if err := m.s.model.Eval(dae.FnJTimesB, m.argJtB, m.resJtB); err != nil {
		return callbackCode("jtimesB", err)
	}
	floats.AddScaled(jv[:nrx], cj, v[:nrx])
	return 0
}

// psetupF evaluates the forward Newton matrix and factorizes it. A
// factorization failure is recoverable: a smaller step changes cj.
func (m *Memory) psetupF(t float64, yy, yp []float64, cj float64) int {
	nx := m.s.dims.NX
	m.tbuf[0] = t
	m.cjbuf[0] = cj
	m.argJF[0] = m.tbuf
	m.argJF[1] = yy[:nx]
	m.argJF[2] = yy[nx:]
	m.argJF[3] = m.p
	m.argJF[4] = m.cjbuf
	m.resJF[0] = m.jac
	if err := m.s.model.Eval(dae.FnJacF, m.argJF, m.resJF); err != nil {
		return callbackCode("jacF", err)
	}
	if err := m.bridge.SetJacobian(m.jac); err != nil {
		return callbackCode("jacF", err)
	}
	if err := m.bridge.Factorize(); err != nil {
		return 1
	}
	return 0
}

// psolveF solves the factorized forward system in place.
func (m *Memory) psolveF(b []float64) int {
	if err := m.bridge.Solve(b); err != nil {
		return callbackCode("linsolF", err)
	}
	return 0
}

func (m *Memory) psetupB(t float64, yy, yp, yyB, ypB []float64, cj float64) int {
	nx, nrx := m.s.dims.NX, m.s.dims.NRX
	m.tbuf[0] = t
	m.cjbuf[0] = cj
	m.argJB[0] = m.tbuf
	m.argJB[1] = yyB[:nrx]
	m.argJB[2] = yyB[nrx:]
	m.argJB[3] = m.rp
	m.argJB[4] = yy[:nx]
	m.argJB[5] = yy[nx:]
	m.argJB[6] = m.p
	m.argJB[7] = m.cjbuf
	m.resJB[0] = m.jacB
	if err := m.s.model.Eval(dae.FnJacB, m.argJB, m.resJB); err != nil {
		return callbackCode("jacB", err)
	}
	if err := m.bridgeB.SetJacobian(m.jacB); err != nil {
		return callbackCode("jacB", err)
	}
	if err := m.bridgeB.Factorize(); err != nil {
		return 1
	}
	return 0
}

func (m *Memory) psolveB(b []float64) int {
	if err := m.bridgeB.Solve(b); err != nil {
		return callbackCode("linsolB", err)
	}
	return 0
}

// directSolver routes the engine's Newton setup/solve through the model's
// Jacobian and the dense bridge, bypassing any built-in linear algebra.
type directSolver struct{ m *Memory }

func (d *directSolver) Setup(t float64, yy, yp []float64, cj float64) int {
	return d.m.psetupF(t, yy, yp, cj)
}

func (d *directSolver) Solve(b []float64, t float64, yy, yp []float64, cj, cjratio float64) int {
	if code := d.m.psolveF(b); code != 0 {
		return code
	}
	// Rescale the correction when cj drifted since the factorization.
	if d.m.s.opts.CJScaling && cjratio != 1 {
		floats.Scale(2/(1+cjratio), b)
	}
	return 0
}

type directSolverB struct{ m *Memory }

func (d *directSolverB) Setup(t float64, yy, yp, yyB, ypB []float64, cj float64) int {
	return d.m.psetupB(t, yy, yp, yyB, ypB, cj)
}

func (d *directSolverB) Solve(b []float64, t float64, yy, yp, yyB, ypB []float64, cj, cjratio float64) int {
	if code := d.m.psolveB(b); code != 0 {
		return code
	}
	if d.m.s.opts.CJScaling && cjratio != 1 {
		floats.Scale(2/(1+cjratio), b)
	}
	return 0
}
