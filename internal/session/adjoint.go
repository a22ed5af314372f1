package session

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/dae"
)

// ResetB seeds the backward problem at time t, usually the end of the
// horizon after the forward pass has taped its trajectory. The first
// call creates the backward problem inside the engine; later calls
// re-initialize it in place.
func (m *Memory) ResetB(t float64, rx, rz, rp []float64) error {
	if m.closed() {
		return dae.ErrClosed
	}
	d := m.s.dims
	if d.NRX == 0 {
		return dae.ErrNoBackward
	}
	if len(rx) != d.NRX || len(rz) != d.NRZ {
		return fmt.Errorf("%w: resetB with len(rx)=%d len(rz)=%d, want %d and %d",
			dae.ErrDimension, len(rx), len(rz), d.NRX, d.NRZ)
	}
	copy(m.rxz[:d.NRX], rx)
	copy(m.rxz[d.NRX:], rz)
	m.rp = append(m.rp[:0], rp...)
	for i := range m.rxzdot {
		m.rxzdot[i] = 0
	}
	m.t = t

	if m.firstCallB {
		if err := m.createBackward(t); err != nil {
			return err
		}
		m.firstCallB = false
	} else {
		if flag := m.eng.ReInitB(m.whichB, t, m.rxz, m.rxzdot); flag.Fatal() {
			return check("ReInitB", flag)
		}
		if d.NRQ > 0 {
			for i := range m.rq {
				m.rq[i] = 0
			}
			if flag := m.eng.QuadReInitB(m.whichB, m.rq); flag.Fatal() {
				return check("QuadReInitB", flag)
			}
		}
	}

	if m.s.opts.calcICB() {
		if flag := m.eng.CalcICB(m.whichB, m.s.t0); flag.Fatal() {
			return check("CalcICB", flag)
		}
		if flag := m.eng.ConsistentICB(m.whichB, m.rxz, m.rxzdot); flag.Fatal() {
			return check("ConsistentICB", flag)
		}
	}
	return nil
}

func (m *Memory) createBackward(t float64) error {
	d := m.s.dims
	nb := d.BackLen()
	which, flag := m.eng.CreateB(nb)
	if flag.Fatal() {
		return check("CreateB", flag)
	}
	m.whichB = which
	if flag := m.eng.InitB(which, m.resB, t, m.rxz, m.rxzdot); flag.Fatal() {
		return check("InitB", flag)
	}
	if m.s.opts.AbsTolV != nil {
		// The backward state mirrors the forward partition; reuse the
		// componentwise tolerances for its differential/algebraic split.
		atol := make([]float64, nb)
		copy(atol[:d.NRX], m.s.opts.AbsTolV[:min(d.NRX, len(m.s.opts.AbsTolV))])
		for i := d.NRX; i < nb; i++ {
			atol[i] = m.s.opts.AbsTol
		}
		if flag := m.eng.SVtolerancesB(which, m.s.opts.RelTol, atol); flag.Fatal() {
			return check("SVtolerancesB", flag)
		}
	} else {
		if flag := m.eng.SStolerancesB(which, m.s.opts.RelTol, m.s.opts.AbsTol); flag.Fatal() {
			return check("SStolerancesB", flag)
		}
	}
	id := make([]float64, nb)
	for i := 0; i < d.NRX; i++ {
		id[i] = 1
	}
	if flag := m.eng.SetIDB(which, id); flag.Fatal() {
		return check("SetIDB", flag)
	}
	if flag := m.eng.SetSuppressAlgB(which, m.s.opts.SuppressAlgebraic); flag.Fatal() {
		return check("SetSuppressAlgB", flag)
	}
	if flag := m.eng.SetMaxNumStepsB(which, m.s.opts.MaxNumSteps); flag.Fatal() {
		return check("SetMaxNumStepsB", flag)
	}
	if flag := m.eng.SetMaxStepB(which, m.s.opts.MaxStepSize); flag.Fatal() {
		return check("SetMaxStepB", flag)
	}
	if err := m.attachBackwardLinsol(which); err != nil {
		return err
	}
	if d.NRQ > 0 {
		for i := range m.rq {
			m.rq[i] = 0
		}
		if flag := m.eng.QuadInitB(which, m.quadB, m.rq); flag.Fatal() {
			return check("QuadInitB", flag)
		}
		if m.s.opts.QuadErrCon {
			if flag := m.eng.SetQuadErrConB(which, true); flag.Fatal() {
				return check("SetQuadErrConB", flag)
			}
			if flag := m.eng.QuadSStolerancesB(which, m.s.opts.RelTol, m.s.opts.AbsTol); flag.Fatal() {
				return check("QuadSStolerancesB", flag)
			}
		}
	}
	return nil
}

// Retreat integrates the backward problem down to t over the taped
// forward trajectory and writes the backward state and quadratures into
// the provided slices. Any of rx, rz, rq may be nil. Output times must
// be non-increasing.
func (m *Memory) Retreat(t float64, rx, rz, rq []float64) error {
	if m.closed() {
		return dae.ErrClosed
	}
	d := m.s.dims
	if d.NRX == 0 || m.firstCallB {
		return dae.ErrNoBackward
	}
	if t > m.t+advanceWindow(m.t) {
		return fmt.Errorf("%w: retreat to %g but memory is at %g", dae.ErrTimeOrder, t, m.t)
	}

	if t < m.t-advanceWindow(m.t) {
		if flag := m.eng.SolveB(t); flag.Fatal() {
			return check("SolveB", flag)
		}
		tret, flag := m.eng.GetB(m.whichB, m.rxz, m.rxzdot)
		if flag.Fatal() {
			return check("GetB", flag)
		}
		m.t = tret
		if d.NRQ > 0 {
			if _, flag := m.eng.QuadB(m.whichB, m.rq); flag.Fatal() {
				return check("QuadB", flag)
			}
		}
		stats, flag := m.eng.BackwardStats(m.whichB)
		if flag.Fatal() {
			return check("BackwardStats", flag)
		}
		m.bwdStats = stats
	}

	if rx != nil {
		copy(rx, m.rxz[:d.NRX])
	}
	if rz != nil {
		copy(rz, m.rxz[d.NRX:])
	}
	if rq != nil {
		copy(rq, m.rq)
	}
	return nil
}
