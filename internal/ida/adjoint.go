package ida

import (
	"math"
	"sort"

	"github.com/san-kum/daesolve/internal/dae"
)

// InterpType selects the forward-trajectory interpolation scheme used by
// backward problems.
type InterpType int

const (
	Hermite InterpType = iota
	Polynomial
)

// ResBFn evaluates a backward residual. The interpolated forward state and
// derivative at t are supplied alongside the backward state.
type ResBFn func(t float64, yy, yp, yyB, ypB, rrB []float64) int

// QuadBFn evaluates a backward quadrature rate.
type QuadBFn func(t float64, yy, yp, yyB, ypB, qBdot []float64) int

// LinearSolverB is the backward counterpart of LinearSolver; it receives
// the interpolated forward state in addition to the backward one.
type LinearSolverB interface {
	Setup(t float64, yy, yp, yyB, ypB []float64, cj float64) int
	Solve(b []float64, t float64, yy, yp, yyB, ypB []float64, cj, cjratio float64) int
}

type tapeNode struct {
	t      float64
	yy, yp []float64
}

type adjointStore struct {
	stepsPerCkpt int
	interp       InterpType
	nodes        []tapeNode
}

func (a *adjointStore) record(t float64, yy, yp []float64) {
	a.nodes = append(a.nodes, tapeNode{
		t:  t,
		yy: append([]float64(nil), yy...),
		yp: append([]float64(nil), yp...),
	})
}

// AdjInit initializes the adjoint module with a checkpoint budget and an
// interpolation scheme. It must precede the first taped forward solve.
func (e *Engine) AdjInit(stepsPerCheckpoint int, interp InterpType) Flag {
	if stepsPerCheckpoint <= 0 {
		return ErrIllInput
	}
	e.adj = &adjointStore{stepsPerCkpt: stepsPerCheckpoint, interp: interp}
	return Success
}

// AdjReInit discards the forward tape, keeping backward problems.
func (e *Engine) AdjReInit() Flag {
	if e.adj == nil {
		return ErrNoAdj
	}
	e.adj.nodes = e.adj.nodes[:0]
	return Success
}

// SolveF advances to tout while taping the trajectory for later backward
// interpolation. It returns the reached time and the checkpoint count.
func (e *Engine) SolveF(tout float64) (float64, int, Flag) {
	if e.adj == nil {
		return e.t, 0, ErrNoAdj
	}
	if len(e.adj.nodes) == 0 {
		e.adj.record(e.t, e.yy, e.yp)
	}
	e.taping = true
	flag := e.solveTo(tout)
	e.taping = false
	ncheck := (len(e.adj.nodes) - 1) / e.adj.stepsPerCkpt
	return e.t, ncheck, flag
}

// InterpolateForward reconstructs the forward state at t from the tape.
// Requests outside the taped interval fail with ErrBadT.
func (e *Engine) InterpolateForward(t float64, yy, yp []float64) Flag {
	if e.adj == nil {
		return ErrNoAdj
	}
	nodes := e.adj.nodes
	if len(nodes) == 0 {
		return ErrBadT
	}
	first, last := nodes[0].t, nodes[len(nodes)-1].t
	ttol := 1e-9 * (1 + math.Abs(t))
	if t < first-ttol || t > last+ttol {
		return ErrBadT
	}
	if t <= first {
		copy(yy, nodes[0].yy)
		copy(yp, nodes[0].yp)
		return Success
	}
	if t >= last {
		copy(yy, nodes[len(nodes)-1].yy)
		copy(yp, nodes[len(nodes)-1].yp)
		return Success
	}
	// First node with t_node >= t.
	k := sort.Search(len(nodes), func(i int) bool { return nodes[i].t >= t })
	lo, hi := nodes[k-1], nodes[k]
	h := hi.t - lo.t
	if h == 0 {
		copy(yy, hi.yy)
		copy(yp, hi.yp)
		return Success
	}
	s := (t - lo.t) / h
	switch e.adj.interp {
	case Hermite:
		h00 := (1 + 2*s) * (1 - s) * (1 - s)
		h10 := s * (1 - s) * (1 - s)
		h01 := s * s * (3 - 2*s)
		h11 := s * s * (s - 1)
		d00 := 6 * s * (s - 1) / h
		d10 := (1 - s) * (1 - 3*s)
		d01 := -6 * s * (s - 1) / h
		d11 := s * (3*s - 2)
		for i := range yy {
			yy[i] = h00*lo.yy[i] + h10*h*lo.yp[i] + h01*hi.yy[i] + h11*h*hi.yp[i]
			yp[i] = d00*lo.yy[i] + d10*lo.yp[i] + d01*hi.yy[i] + d11*hi.yp[i]
		}
	default:
		for i := range yy {
			yy[i] = (1-s)*lo.yy[i] + s*hi.yy[i]
			yp[i] = (1-s)*lo.yp[i] + s*hi.yp[i]
		}
	}
	return Success
}

type backward struct {
	parent *Engine
	eng    *Engine
	resB   ResBFn
	quadB  QuadBFn

	fyy, fyp   []float64 // interpolated forward state scratch
	interpFail bool
}

// linsolBAdapter presents a LinearSolverB to the backward sub-engine as a
// plain LinearSolver, interpolating the forward trajectory first.
type linsolBAdapter struct {
	b  *backward
	ls LinearSolverB
}

func (a *linsolBAdapter) Setup(t float64, yyB, ypB []float64, cj float64) int {
	if flag := a.b.parent.InterpolateForward(t, a.b.fyy, a.b.fyp); flag.Fatal() {
		a.b.interpFail = true
		return -1
	}
	return a.ls.Setup(t, a.b.fyy, a.b.fyp, yyB, ypB, cj)
}

func (a *linsolBAdapter) Solve(bv []float64, t float64, yyB, ypB []float64, cj, cjratio float64) int {
	if flag := a.b.parent.InterpolateForward(t, a.b.fyy, a.b.fyp); flag.Fatal() {
		a.b.interpFail = true
		return -1
	}
	return a.ls.Solve(bv, t, a.b.fyy, a.b.fyp, yyB, ypB, cj, cjratio)
}

// CreateB allocates a backward problem and returns its index.
func (e *Engine) CreateB(n int) (int, Flag) {
	if e.adj == nil {
		return 0, ErrNoAdj
	}
	if n <= 0 {
		return 0, ErrIllInput
	}
	b := &backward{
		parent: e,
		eng:    New(n, -1),
		fyy:    make([]float64, e.n),
		fyp:    make([]float64, e.n),
	}
	e.backs = append(e.backs, b)
	return len(e.backs) - 1, Success
}

func (e *Engine) backAt(which int) (*backward, Flag) {
	if e.adj == nil {
		return nil, ErrNoAdj
	}
	if which < 0 || which >= len(e.backs) {
		return nil, ErrNoBck
	}
	return e.backs[which], Success
}

// InitB registers the backward residual and end conditions.
func (e *Engine) InitB(which int, resB ResBFn, tB0 float64, yyB, ypB []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	if resB == nil {
		return ErrIllInput
	}
	b.resB = resB
	wrapped := func(t float64, yy, yp, rr []float64) int {
		if iflag := b.parent.InterpolateForward(t, b.fyy, b.fyp); iflag.Fatal() {
			b.interpFail = true
			return -1
		}
		return b.resB(t, b.fyy, b.fyp, yy, yp, rr)
	}
	return b.eng.Init(wrapped, tB0, yyB, ypB)
}

// ReInitB reloads the backward problem at a new end time.
func (e *Engine) ReInitB(which int, tB0 float64, yyB, ypB []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.ReInit(tB0, yyB, ypB)
}

func (e *Engine) SStolerancesB(which int, rtol, atol float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.SStolerances(rtol, atol)
}

func (e *Engine) SVtolerancesB(which int, rtol float64, atol []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.SVtolerances(rtol, atol)
}

func (e *Engine) SetIDB(which int, id []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.SetID(id)
}

func (e *Engine) SetSuppressAlgB(which int, suppress bool) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	b.eng.SetSuppressAlg(suppress)
	return Success
}

func (e *Engine) SetMaxNumStepsB(which, n int) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.SetMaxNumSteps(n)
}

func (e *Engine) SetMaxStepB(which int, h float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.SetMaxStep(h)
}

// AttachLinearSolverB installs the backward Newton linear solver.
func (e *Engine) AttachLinearSolverB(which int, ls LinearSolverB) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	if ls == nil {
		return ErrIllInput
	}
	return b.eng.AttachLinearSolver(&linsolBAdapter{b: b, ls: ls})
}

// QuadInitB enables backward quadratures.
func (e *Engine) QuadInitB(which int, fn QuadBFn, qB0 []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	if fn == nil {
		return ErrIllInput
	}
	b.quadB = fn
	wrapped := func(t float64, yy, yp, qdot []float64) int {
		if iflag := b.parent.InterpolateForward(t, b.fyy, b.fyp); iflag.Fatal() {
			b.interpFail = true
			return -1
		}
		return b.quadB(t, b.fyy, b.fyp, yy, yp, qdot)
	}
	return b.eng.QuadInit(wrapped, qB0)
}

func (e *Engine) QuadReInitB(which int, qB0 []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.QuadReInit(qB0)
}

func (e *Engine) SetQuadErrConB(which int, on bool) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	b.eng.SetQuadErrCon(on)
	return Success
}

func (e *Engine) QuadSStolerancesB(which int, rtol, atol float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.QuadSStolerances(rtol, atol)
}

// CalcICB recovers consistent conditions for the backward problem at its
// current end time.
func (e *Engine) CalcICB(which int, tscale float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	flag = b.eng.CalcIC(tscale)
	if b.interpFail {
		b.interpFail = false
		return ErrBadT
	}
	return flag
}

func (e *Engine) ConsistentICB(which int, yyB, ypB []float64) Flag {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return flag
	}
	return b.eng.ConsistentIC(yyB, ypB)
}

// SolveB integrates every backward problem down to tout.
func (e *Engine) SolveB(tout float64) Flag {
	if e.adj == nil {
		return ErrNoAdj
	}
	if len(e.backs) == 0 {
		return ErrNoBck
	}
	for _, b := range e.backs {
		if b.eng == nil || !b.eng.initialized {
			continue
		}
		if b.eng.t <= tout {
			continue
		}
		flag := b.eng.solveTo(tout)
		if b.interpFail {
			b.interpFail = false
			return ErrBadT
		}
		if flag.Fatal() {
			return flag
		}
	}
	return Success
}

// GetB copies the current backward state and derivative, returning the
// backward time.
func (e *Engine) GetB(which int, yyB, ypB []float64) (float64, Flag) {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return 0, flag
	}
	copy(yyB, b.eng.yy)
	copy(ypB, b.eng.yp)
	return b.eng.t, Success
}

// QuadB copies the current backward quadrature values.
func (e *Engine) QuadB(which int, qB []float64) (float64, Flag) {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return 0, flag
	}
	return b.eng.Quad(qB)
}

// BackwardStats returns the diagnostics of a backward sub-problem.
func (e *Engine) BackwardStats(which int) (dae.Stats, Flag) {
	b, flag := e.backAt(which)
	if flag.Fatal() {
		return dae.Stats{}, flag
	}
	return b.eng.Stats(), Success
}
