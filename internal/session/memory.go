package session

import (
	"github.com/san-kum/daesolve/internal/dae"
	"github.com/san-kum/daesolve/internal/ida"
	"github.com/san-kum/daesolve/internal/linsol"
)

// Memory is the per-run mutable state of a session. Exactly one Memory
// exists per concurrently-active integration; it is exclusively owned by
// the run that created it and released with Close.
type Memory struct {
	s   *Session
	eng *ida.Engine

	xz, xzdot []float64 // combined forward state and derivative
	q         []float64
	rxz       []float64 // combined backward state
	rxzdot    []float64
	rq        []float64
	p, rp     []float64

	t          float64
	whichB     int
	firstCallB bool
	ncheck     int

	fwdStats dae.Stats
	bwdStats dae.Stats

	// callback scratch: argument/result pointer tables reused across
	// consecutive invocations, plus dense Jacobian buffers.
	tbuf    []float64
	cjbuf   []float64
	argF    [][]float64
	resF2   [][]float64
	argB    [][]float64
	resB2   [][]float64
	argJF   [][]float64
	resJF   [][]float64
	argJB   [][]float64
	resJB   [][]float64
	argJtF  [][]float64
	resJtF  [][]float64
	argJtB  [][]float64
	resJtB  [][]float64
	jac     []float64
	jacB    []float64
	bridge  *linsol.Bridge
	bridgeB *linsol.Bridge
}

// NewMemory allocates and wires the per-run state: state vectors are
// zero-initialized, the residual callback registered, tolerances and
// limits applied, the differential/algebraic partition set, the linear
// solver attached, and, when a backward pass may be requested, the
// checkpointing subsystem initialized.
func (s *Session) NewMemory() (*Memory, error) {
	d := s.dims
	n := d.StateLen()
	m := &Memory{
		s:          s,
		eng:        ida.New(n, 1),
		xz:         make([]float64, n),
		xzdot:      make([]float64, n),
		t:          s.t0,
		firstCallB: true,
		tbuf:       make([]float64, 1),
		cjbuf:      make([]float64, 1),
		argF:       make([][]float64, 4),
		resF2:      make([][]float64, 2),
		argJF:      make([][]float64, 5),
		resJF:      make([][]float64, 1),
		argJtF:     make([][]float64, 6),
		resJtF:     make([][]float64, 2),
		jac:        make([]float64, n*n),
	}
	if d.NQ > 0 {
		m.q = make([]float64, d.NQ)
	}
	if flag := m.eng.Init(m.resF, s.t0, m.xz, m.xzdot); flag.Fatal() {
		return nil, check("Init", flag)
	}
	if s.opts.AbsTolV != nil {
		if flag := m.eng.SVtolerances(s.opts.RelTol, s.opts.AbsTolV); flag.Fatal() {
			return nil, check("SVtolerances", flag)
		}
	} else {
		if flag := m.eng.SStolerances(s.opts.RelTol, s.opts.AbsTol); flag.Fatal() {
			return nil, check("SStolerances", flag)
		}
	}
	m.eng.SetSuppressAlg(s.opts.SuppressAlgebraic)
	if flag := m.eng.SetMaxOrder(s.opts.MaxOrder); flag.Fatal() {
		return nil, check("SetMaxOrder", flag)
	}
	if flag := m.eng.SetMaxStep(s.opts.MaxStepSize); flag.Fatal() {
		return nil, check("SetMaxStep", flag)
	}
	if flag := m.eng.SetMaxNumSteps(s.opts.MaxNumSteps); flag.Fatal() {
		return nil, check("SetMaxNumSteps", flag)
	}

	// Differential/algebraic partition: 1 for the nx differential
	// components, 0 for the nz algebraic ones.
	id := make([]float64, n)
	for i := 0; i < d.NX; i++ {
		id[i] = 1
	}
	if flag := m.eng.SetID(id); flag.Fatal() {
		return nil, check("SetID", flag)
	}

	if err := m.attachForwardLinsol(); err != nil {
		m.Close()
		return nil, err
	}

	if d.NQ > 0 {
		if flag := m.eng.QuadInit(m.quadF, m.q); flag.Fatal() {
			return nil, check("QuadInit", flag)
		}
		if s.opts.QuadErrCon {
			m.eng.SetQuadErrCon(true)
			if flag := m.eng.QuadSStolerances(s.opts.RelTol, s.opts.AbsTol); flag.Fatal() {
				return nil, check("QuadSStolerances", flag)
			}
		}
	}

	if d.NRX > 0 {
		nb := d.BackLen()
		m.rxz = make([]float64, nb)
		m.rxzdot = make([]float64, nb)
		if d.NRQ > 0 {
			m.rq = make([]float64, d.NRQ)
		}
		m.argB = make([][]float64, 7)
		m.resB2 = make([][]float64, 2)
		m.argJB = make([][]float64, 8)
		m.resJB = make([][]float64, 1)
		m.argJtB = make([][]float64, 9)
		m.resJtB = make([][]float64, 2)
		m.jacB = make([]float64, nb*nb)
		if flag := m.eng.AdjInit(s.opts.StepsPerCheckpoint, s.interp); flag.Fatal() {
			return nil, check("AdjInit", flag)
		}
	}
	return m, nil
}

func (m *Memory) attachForwardLinsol() error {
	n := m.s.dims.StateLen()
	if k, ok := m.s.krylov(); ok {
		var ps ida.PSetupFn
		var psol ida.PSolveFn
		if k.UsePrecond {
			m.bridge = linsol.NewBridge(n)
			ps = m.psetupF
			psol = m.psolveF
		}
		flag := m.eng.AttachKrylov(krylovKind(k.Kind), k.MaxDim, m.jtimesF, ps, psol)
		return check("AttachKrylov", flag)
	}
	// Direct path: substitute the engine's linear algebra with Jacobian
	// evaluation through the model and a dense factorization.
	m.bridge = linsol.NewBridge(n)
	flag := m.eng.AttachLinearSolver(&directSolver{m: m})
	return check("AttachLinearSolver", flag)
}

func (m *Memory) attachBackwardLinsol(which int) error {
	nb := m.s.dims.BackLen()
	if k, ok := m.s.krylov(); ok {
		var ps ida.PSetupBFn
		var psol ida.PSolveBFn
		if k.UsePrecond {
			m.bridgeB = linsol.NewBridge(nb)
			ps = m.psetupB
			psol = m.psolveB
		}
		flag := m.eng.AttachKrylovB(which, krylovKind(k.Kind), k.MaxDim, m.jtimesB, ps, psol)
		return check("AttachKrylovB", flag)
	}
	m.bridgeB = linsol.NewBridge(nb)
	flag := m.eng.AttachLinearSolverB(which, &directSolverB{m: m})
	return check("AttachLinearSolverB", flag)
}

// Time returns the current integration time: monotonically advancing
// during the forward pass, decreasing during the backward pass.
func (m *Memory) Time() float64 { return m.t }

// Checkpoints returns the checkpoint count recorded by the last taped
// forward advance.
func (m *Memory) Checkpoints() int { return m.ncheck }

// ForwardStats returns the forward diagnostics after the last Advance.
func (m *Memory) ForwardStats() dae.Stats { return m.fwdStats }

// BackwardStats returns the backward diagnostics after the last Retreat.
func (m *Memory) BackwardStats() dae.Stats { return m.bwdStats }

// Close releases the engine and all buffers. The memory must not be used
// afterwards; Close is safe to call on every exit path.
func (m *Memory) Close() {
	m.eng = nil
	m.bridge = nil
	m.bridgeB = nil
	m.xz, m.xzdot, m.q = nil, nil, nil
	m.rxz, m.rxzdot, m.rq = nil, nil, nil
	m.jac, m.jacB = nil, nil
}

func (m *Memory) closed() bool { return m.eng == nil }
