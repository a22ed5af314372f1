package dae

import (
	"fmt"
	"math"
)

// Names of the evaluable units a model exposes.
const (
	FnDAEF    = "daeF"
	FnQuadF   = "quadF"
	FnDAEB    = "daeB"
	FnQuadB   = "quadB"
	FnJacF    = "jacF"
	FnJacB    = "jacB"
	FnJTimesF = "jtimesF"
	FnJTimesB = "jtimesB"
)

// Evaluator evaluates a named unit given packed argument buffers. The
// buffers alias session-owned storage and are only valid for the duration
// of the call.
//
// Argument and result packing, in order:
//
//	daeF:    arg {x, z, p, [t]}                          res {ode, alg}
//	quadF:   arg {x, z, p, [t]}                          res {quad}
//	daeB:    arg {rx, rz, rp, x, z, p, [t]}              res {rode, ralg}
//	quadB:   arg {rx, rz, rp, x, z, p, [t]}              res {rquad}
//	jacF:    arg {[t], x, z, p, [cj]}                    res {jac}
//	jacB:    arg {[t], rx, rz, rp, x, z, p, [cj]}        res {jac}
//	jtimesF: arg {[t], x, z, p, vx, vz}                  res {jvx, jvz}
//	jtimesB: arg {[t], x, z, p, rx, rz, rp, vrx, vrz}    res {jvrx, jvrz}
//
// Jacobian results are dense row-major Newton matrices including the
// cj-scaled derivative term (-cj on the forward differential diagonal,
// +cj on the backward one). The jtimes products exclude the cj term; the
// caller applies it.
type Evaluator interface {
	Eval(name string, arg, res [][]float64) error
}

// FuncModel adapts Go closures to the Evaluator contract. Nil Jacobian or
// jtimes closures fall back to finite differences of the residual.
type FuncModel struct {
	Dims Dimensions

	DAEF  func(t float64, x, z, p, ode, alg []float64) error
	QuadF func(t float64, x, z, p, quad []float64) error
	DAEB  func(t float64, rx, rz, rp, x, z, p, rode, ralg []float64) error
	QuadB func(t float64, rx, rz, rp, x, z, p, rquad []float64) error

	JacF    func(t float64, x, z, p []float64, cj float64, jac []float64) error
	JacB    func(t float64, rx, rz, rp, x, z, p []float64, cj float64, jac []float64) error
	JTimesF func(t float64, x, z, p, vx, vz, jvx, jvz []float64) error
	JTimesB func(t float64, x, z, p, rx, rz, rp, vrx, vrz, jvrx, jvrz []float64) error
}

func (m *FuncModel) Eval(name string, arg, res [][]float64) error {
	switch name {
	case FnDAEF:
		if m.DAEF == nil {
			return fmt.Errorf("dae: model has no %s", name)
		}
		return m.DAEF(arg[3][0], arg[0], arg[1], arg[2], res[0], res[1])
	case FnQuadF:
		if m.QuadF == nil {
			return fmt.Errorf("dae: model has no %s", name)
		}
		return m.QuadF(arg[3][0], arg[0], arg[1], arg[2], res[0])
	case FnDAEB:
		if m.DAEB == nil {
			return fmt.Errorf("dae: model has no %s", name)
		}
		return m.DAEB(arg[6][0], arg[0], arg[1], arg[2], arg[3], arg[4], arg[5], res[0], res[1])
	case FnQuadB:
		if m.QuadB == nil {
			return fmt.Errorf("dae: model has no %s", name)
		}
		return m.QuadB(arg[6][0], arg[0], arg[1], arg[2], arg[3], arg[4], arg[5], res[0])
	case FnJacF:
		if m.JacF != nil {
			return m.JacF(arg[0][0], arg[1], arg[2], arg[3], arg[4][0], res[0])
		}
		return m.fdJacF(arg[0][0], arg[1], arg[2], arg[3], arg[4][0], res[0])
	case FnJacB:
		if m.JacB != nil {
			return m.JacB(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], arg[6], arg[7][0], res[0])
		}
		return m.fdJacB(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], arg[6], arg[7][0], res[0])
	case FnJTimesF:
		if m.JTimesF != nil {
			return m.JTimesF(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], res[0], res[1])
		}
		return m.fdJTimesF(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], res[0], res[1])
	case FnJTimesB:
		if m.JTimesB != nil {
			return m.JTimesB(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], arg[6], arg[7], arg[8], res[0], res[1])
		}
		return m.fdJTimesB(arg[0][0], arg[1], arg[2], arg[3], arg[4], arg[5], arg[6], arg[7], arg[8], res[0], res[1])
	}
	return fmt.Errorf("dae: unknown function %q", name)
}

const fdEps = 1.4901161193847656e-08 // sqrt(machine epsilon)

func fdStep(v float64) float64 {
	return fdEps * math.Max(1, math.Abs(v))
}

// fdJacF builds the forward Newton matrix d(ode,alg)/d(x,z) - cj*I on the
// differential diagonal, one residual evaluation per column.
func (m *FuncModel) fdJacF(t float64, x, z, p []float64, cj float64, jac []float64) error {
	nx, nz := m.Dims.NX, m.Dims.NZ
	n := nx + nz
	xp := append([]float64(nil), x...)
	zp := append([]float64(nil), z...)
	f0 := make([]float64, n)
	f1 := make([]float64, n)
	if err := m.DAEF(t, xp, zp, p, f0[:nx], f0[nx:]); err != nil {
		return err
	}
	for j := 0; j < n; j++ {
		var orig, h float64
		if j < nx {
			orig = xp[j]
			h = fdStep(orig)
			xp[j] = orig + h
		} else {
			orig = zp[j-nx]
			h = fdStep(orig)
			zp[j-nx] = orig + h
		}
		if err := m.DAEF(t, xp, zp, p, f1[:nx], f1[nx:]); err != nil {
			return err
		}
		if j < nx {
			xp[j] = orig
		} else {
			zp[j-nx] = orig
		}
		for i := 0; i < n; i++ {
			jac[i*n+j] = (f1[i] - f0[i]) / h
		}
	}
	for i := 0; i < nx; i++ {
		jac[i*n+i] -= cj
	}
	return nil
}

// fdJacB builds the backward Newton matrix d(rode,ralg)/d(rx,rz) + cj*I on
// the differential diagonal.
func (m *FuncModel) fdJacB(t float64, rx, rz, rp, x, z, p []float64, cj float64, jac []float64) error {
	nrx, nrz := m.Dims.NRX, m.Dims.NRZ
	n := nrx + nrz
	rxp := append([]float64(nil), rx...)
	rzp := append([]float64(nil), rz...)
	f0 := make([]float64, n)
	f1 := make([]float64, n)
	if err := m.DAEB(t, rxp, rzp, rp, x, z, p, f0[:nrx], f0[nrx:]); err != nil {
		return err
	}
	for j := 0; j < n; j++ {
		var orig, h float64
		if j < nrx {
			orig = rxp[j]
			h = fdStep(orig)
			rxp[j] = orig + h
		} else {
			orig = rzp[j-nrx]
			h = fdStep(orig)
			rzp[j-nrx] = orig + h
		}
		if err := m.DAEB(t, rxp, rzp, rp, x, z, p, f1[:nrx], f1[nrx:]); err != nil {
			return err
		}
		if j < nrx {
			rxp[j] = orig
		} else {
			rzp[j-nrx] = orig
		}
		for i := 0; i < n; i++ {
			jac[i*n+j] = (f1[i] - f0[i]) / h
		}
	}
	for i := 0; i < nrx; i++ {
		jac[i*n+i] += cj
	}
	return nil
}

// fdJTimesF approximates the directional derivative of the forward right
// hand side along (vx, vz), excluding the cj term.
func (m *FuncModel) fdJTimesF(t float64, x, z, p, vx, vz, jvx, jvz []float64) error {
	nx, nz := m.Dims.NX, m.Dims.NZ
	vnorm := 0.0
	for _, v := range vx {
		vnorm += v * v
	}
	for _, v := range vz {
		vnorm += v * v
	}
	vnorm = math.Sqrt(vnorm)
	if vnorm == 0 {
		for i := range jvx {
			jvx[i] = 0
		}
		for i := range jvz {
			jvz[i] = 0
		}
		return nil
	}
	sigma := fdEps / vnorm
	xp := make([]float64, nx)
	zp := make([]float64, nz)
	for i := range xp {
		xp[i] = x[i] + sigma*vx[i]
	}
	for i := range zp {
		zp[i] = z[i] + sigma*vz[i]
	}
	f0 := make([]float64, nx+nz)
	f1 := make([]float64, nx+nz)
	if err := m.DAEF(t, x, z, p, f0[:nx], f0[nx:]); err != nil {
		return err
	}
	if err := m.DAEF(t, xp, zp, p, f1[:nx], f1[nx:]); err != nil {
		return err
	}
	for i := 0; i < nx; i++ {
		jvx[i] = (f1[i] - f0[i]) / sigma
	}
	for i := 0; i < nz; i++ {
		jvz[i] = (f1[nx+i] - f0[nx+i]) / sigma
	}
	return nil
}

func (m *FuncModel) fdJTimesB(t float64, x, z, p, rx, rz, rp, vrx, vrz, jvrx, jvrz []float64) error {
	nrx, nrz := m.Dims.NRX, m.Dims.NRZ
	vnorm := 0.0
	for _, v := range vrx {
		vnorm += v * v
	}
	for _, v := range vrz {
		vnorm += v * v
	}
	vnorm = math.Sqrt(vnorm)
	if vnorm == 0 {
		for i := range jvrx {
			jvrx[i] = 0
		}
		for i := range jvrz {
			jvrz[i] = 0
		}
		return nil
	}
	sigma := fdEps / vnorm
	rxp := make([]float64, nrx)
	rzp := make([]float64, nrz)
	for i := range rxp {
		rxp[i] = rx[i] + sigma*vrx[i]
	}
	for i := range rzp {
		rzp[i] = rz[i] + sigma*vrz[i]
	}
	f0 := make([]float64, nrx+nrz)
	f1 := make([]float64, nrx+nrz)
	if err := m.DAEB(t, rx, rz, rp, x, z, p, f0[:nrx], f0[nrx:]); err != nil {
		return err
	}
	if err := m.DAEB(t, rxp, rzp, rp, x, z, p, f1[:nrx], f1[nrx:]); err != nil {
		return err
	}
	for i := 0; i < nrx; i++ {
		jvrx[i] = (f1[i] - f0[i]) / sigma
	}
	for i := 0; i < nrz; i++ {
		jvrz[i] = (f1[nrx+i] - f0[nrx+i]) / sigma
	}
	return nil
}
