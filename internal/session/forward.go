package session

import (
	"fmt"
	"math"

	"github.com/san-kum/daesolve/internal/dae"
)

// advanceTol is the relative window inside which a repeated Advance to
// the same output time returns the cached state instead of stepping.
const advanceTol = 1e-9

// Reset loads a fresh initial state and rewinds the memory to the start
// of the horizon. When consistent-IC recovery is enabled the algebraic
// components of x/z and the derivative guess are corrected in place
// inside the memory; the caller's slices are unchanged.
func (m *Memory) Reset(t float64, x, z, p []float64) error {
	if m.closed() {
		return dae.ErrClosed
	}
	d := m.s.dims
	if len(x) != d.NX || len(z) != d.NZ {
		return fmt.Errorf("%w: reset with len(x)=%d len(z)=%d, want %d and %d",
			dae.ErrDimension, len(x), len(z), d.NX, d.NZ)
	}
	copy(m.xz[:d.NX], x)
	copy(m.xz[d.NX:], z)
	m.p = append(m.p[:0], p...)
	m.t = t

	// Derivative guess: user-provided for the differential block, zero
	// elsewhere. CalcIC refines it when enabled.
	for i := range m.xzdot {
		m.xzdot[i] = 0
	}
	if m.s.opts.InitXdot != nil {
		copy(m.xzdot[:d.NX], m.s.opts.InitXdot)
	}

	if flag := m.eng.ReInit(t, m.xz, m.xzdot); flag.Fatal() {
		return check("ReInit", flag)
	}
	if d.NQ > 0 {
		for i := range m.q {
			m.q[i] = 0
		}
		if flag := m.eng.QuadReInit(m.q); flag.Fatal() {
			return check("QuadReInit", flag)
		}
	}
	if m.s.opts.StopAtEnd {
		m.eng.SetStopTime(m.s.tf)
	} else {
		m.eng.ClearStopTime()
	}

	if m.s.opts.CalcIC {
		tfirst := t + m.s.opts.FirstTime*(m.s.tf-m.s.t0)
		if flag := m.eng.CalcIC(tfirst); flag.Fatal() {
			return check("CalcIC", flag)
		}
		if m.s.opts.ExtraFsensCalcIC {
			if flag := m.eng.CalcIC(tfirst); flag.Fatal() {
				return check("CalcIC", flag)
			}
		}
		if flag := m.eng.ConsistentIC(m.xz, m.xzdot); flag.Fatal() {
			return check("ConsistentIC", flag)
		}
	}

	if d.NRX > 0 {
		if flag := m.eng.AdjReInit(); flag.Fatal() {
			return check("AdjReInit", flag)
		}
		m.firstCallB = true
		m.ncheck = 0
	}
	m.fwdStats = m.eng.Stats()
	return nil
}

// Advance integrates forward to t and writes the state and accumulated
// quadratures into the provided slices. Any of x, z, q may be nil when
// the caller does not need that output. Output times must be
// non-decreasing and, when StopAtEnd holds, inside the horizon.
func (m *Memory) Advance(t float64, x, z, q []float64) error {
	if m.closed() {
		return dae.ErrClosed
	}
	d := m.s.dims
	if t < m.t-advanceWindow(m.t) {
		return fmt.Errorf("%w: advance to %g but memory is at %g", dae.ErrTimeOrder, t, m.t)
	}
	if m.s.opts.StopAtEnd && t > m.s.tf+advanceWindow(m.s.tf) {
		return fmt.Errorf("%w: advance to %g past end time %g", dae.ErrTimeOrder, t, m.s.tf)
	}

	if t > m.t+advanceWindow(m.t) {
		if d.NRX > 0 {
			tret, nchk, flag := m.eng.SolveF(t)
			if flag.Fatal() {
				return check("SolveF", flag)
			}
			m.t = tret
			m.ncheck = nchk
		} else {
			tret, flag := m.eng.Solve(t)
			if flag.Fatal() {
				return check("Solve", flag)
			}
			m.t = tret
		}
		if flag := m.eng.State(m.xz, m.xzdot); flag.Fatal() {
			return check("State", flag)
		}
		if d.NQ > 0 {
			if _, flag := m.eng.Quad(m.q); flag.Fatal() {
				return check("Quad", flag)
			}
		}
		m.fwdStats = m.eng.Stats()
	}

	if x != nil {
		copy(x, m.xz[:d.NX])
	}
	if z != nil {
		copy(z, m.xz[d.NX:])
	}
	if q != nil {
		copy(q, m.q)
	}
	return nil
}

func advanceWindow(t float64) float64 {
	return advanceTol * (1 + math.Abs(t))
}
