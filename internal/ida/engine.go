package ida

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/daesolve/internal/dae"
)

// ResFn evaluates the residual F(t, y, y') into rr. The return code is 0 on
// success, positive for a recoverable failure, negative for a fatal one.
type ResFn func(t float64, yy, yp, rr []float64) int

// QuadFn evaluates the quadrature rate at (t, y, y') into qdot.
type QuadFn func(t float64, yy, yp, qdot []float64) int

// LinearSolver prepares and solves the Newton system J*x = b with
// J = dF/dy + cj*dF/dy'. Setup is called when the iteration matrix must be
// (re)built; Solve overwrites b with the correction. cjratio is the ratio
// of the current cj to the one at the last Setup.
type LinearSolver interface {
	Setup(t float64, yy, yp []float64, cj float64) int
	Solve(b []float64, t float64, yy, yp []float64, cj, cjratio float64) int
}

const (
	maxNewtonIter  = 4
	newtonTol      = 0.33
	etaMin         = 0.25
	etaMax         = 2.0
	safety         = 0.9
	maxErrFails    = 10
	maxConvFails   = 10
	cjRatioLow     = 0.6
	cjRatioHigh    = 5.0 / 3.0
	defaultMaxStep = 0.0 // unlimited
)

// Engine integrates one DAE system in one direction.
type Engine struct {
	n   int
	res ResFn
	dir float64 // +1 forward, -1 backward

	rtol        float64
	atol        []float64 // length 1 (scalar) or n
	id          []float64 // 1 differential, 0 algebraic; nil means all differential
	suppressAlg bool

	maxStep  float64
	maxSteps int
	maxOrder int
	tstop    float64
	hasTstop bool

	ls LinearSolver

	quadFn       QuadFn
	q            []float64
	qdot         []float64
	qdotValid    bool
	quadErrCon   bool
	qrtol, qatol float64

	t      float64
	yy, yp []float64

	yPrev    []float64
	hh       float64 // next step size (signed)
	hPrev    float64 // last accepted step size
	order    int
	kPrev    int
	haveHist bool

	cj        float64
	cjLsetup  float64
	needSetup bool

	pred, ypConst, cand, candP, delta, rr, wt []float64
	qdotNew, qScratch                         []float64

	nst, nre, nsetups, netf, ncfn int
	hinused                       float64

	adj    *adjointStore
	backs  []*backward
	taping bool

	initialized bool
}

// New creates an engine for a system of n equations stepping in the given
// direction (+1 forward, -1 backward).
func New(n int, dir float64) *Engine {
	if dir >= 0 {
		dir = 1
	} else {
		dir = -1
	}
	return &Engine{
		n:        n,
		dir:      dir,
		rtol:     1e-6,
		atol:     []float64{1e-8},
		maxSteps: 10000,
		maxOrder: 2,
		maxStep:  defaultMaxStep,
	}
}

// Init registers the residual and the initial state. It must be called
// once before the first Solve.
func (e *Engine) Init(res ResFn, t0 float64, yy, yp []float64) Flag {
	if res == nil || len(yy) != e.n || len(yp) != e.n {
		return ErrIllInput
	}
	e.res = res
	e.t = t0
	e.yy = append(e.yy[:0], yy...)
	e.yp = append(e.yp[:0], yp...)
	e.yPrev = make([]float64, e.n)
	e.pred = make([]float64, e.n)
	e.ypConst = make([]float64, e.n)
	e.cand = make([]float64, e.n)
	e.candP = make([]float64, e.n)
	e.delta = make([]float64, e.n)
	e.rr = make([]float64, e.n)
	e.wt = make([]float64, e.n)
	e.resetStepper()
	e.initialized = true
	return Success
}

// ReInit reloads the state at a new start time, keeping tolerances, limits
// and the attached linear solver.
func (e *Engine) ReInit(t0 float64, yy, yp []float64) Flag {
	if !e.initialized {
		return ErrMem
	}
	if len(yy) != e.n || len(yp) != e.n {
		return ErrIllInput
	}
	e.t = t0
	copy(e.yy, yy)
	copy(e.yp, yp)
	e.resetStepper()
	return Success
}

func (e *Engine) resetStepper() {
	e.hh = 0
	e.hPrev = 0
	e.order = 1
	e.kPrev = 0
	e.haveHist = false
	e.needSetup = true
	e.qdotValid = false
	e.nst, e.nre, e.nsetups, e.netf, e.ncfn = 0, 0, 0, 0, 0
	e.hinused = 0
}

// SStolerances sets scalar relative and absolute tolerances.
func (e *Engine) SStolerances(rtol, atol float64) Flag {
	if rtol <= 0 || atol <= 0 {
		return ErrIllInput
	}
	e.rtol = rtol
	e.atol = []float64{atol}
	return Success
}

// SVtolerances sets a scalar relative tolerance and a per-component
// absolute tolerance vector.
func (e *Engine) SVtolerances(rtol float64, atol []float64) Flag {
	if rtol <= 0 || len(atol) != e.n {
		return ErrIllInput
	}
	for _, a := range atol {
		if a <= 0 {
			return ErrIllInput
		}
	}
	e.rtol = rtol
	e.atol = append([]float64(nil), atol...)
	return Success
}

// SetID marks each component as differential (1) or algebraic (0).
func (e *Engine) SetID(id []float64) Flag {
	if len(id) != e.n {
		return ErrIllInput
	}
	e.id = append([]float64(nil), id...)
	return Success
}

// SetSuppressAlg excludes algebraic components from the local error test.
func (e *Engine) SetSuppressAlg(suppress bool) { e.suppressAlg = suppress }

// SetMaxStep caps the internal step size; zero means unlimited.
func (e *Engine) SetMaxStep(h float64) Flag {
	if h < 0 {
		return ErrIllInput
	}
	e.maxStep = h
	return Success
}

// SetMaxNumSteps caps the internal steps taken between two output times.
func (e *Engine) SetMaxNumSteps(n int) Flag {
	if n <= 0 {
		return ErrIllInput
	}
	e.maxSteps = n
	return Success
}

// SetMaxOrder caps the BDF order (1 or 2).
func (e *Engine) SetMaxOrder(k int) Flag {
	if k < 1 || k > 2 {
		return ErrIllInput
	}
	e.maxOrder = k
	return Success
}

// SetStopTime forbids integrating past tf.
func (e *Engine) SetStopTime(tf float64) {
	e.tstop = tf
	e.hasTstop = true
}

// ClearStopTime removes the stop-time restriction.
func (e *Engine) ClearStopTime() { e.hasTstop = false }

// AttachLinearSolver installs the Newton linear solver.
func (e *Engine) AttachLinearSolver(ls LinearSolver) Flag {
	if ls == nil {
		return ErrIllInput
	}
	e.ls = ls
	return Success
}

// QuadInit enables quadrature integration with initial values q0.
func (e *Engine) QuadInit(fn QuadFn, q0 []float64) Flag {
	if fn == nil {
		return ErrIllInput
	}
	e.quadFn = fn
	e.q = append(e.q[:0], q0...)
	e.qdot = make([]float64, len(q0))
	e.qdotNew = make([]float64, len(q0))
	e.qScratch = make([]float64, len(q0))
	e.qdotValid = false
	e.qrtol, e.qatol = e.rtol, firstOr(e.atol)
	return Success
}

// QuadReInit resets the quadrature accumulators.
func (e *Engine) QuadReInit(q0 []float64) Flag {
	if e.quadFn == nil || len(q0) != len(e.q) {
		return ErrIllInput
	}
	copy(e.q, q0)
	e.qdotValid = false
	return Success
}

// SetQuadErrCon includes the quadratures in the local error test.
func (e *Engine) SetQuadErrCon(on bool) { e.quadErrCon = on }

// QuadSStolerances sets the quadrature error-control tolerances.
func (e *Engine) QuadSStolerances(rtol, atol float64) Flag {
	if rtol <= 0 || atol <= 0 {
		return ErrIllInput
	}
	e.qrtol, e.qatol = rtol, atol
	return Success
}

// Quad copies the current quadrature values into dst.
func (e *Engine) Quad(dst []float64) (float64, Flag) {
	if e.quadFn == nil {
		return e.t, ErrIllInput
	}
	copy(dst, e.q)
	return e.t, Success
}

// Time returns the current internal time.
func (e *Engine) Time() float64 { return e.t }

// State copies the current solution and derivative into yy and yp.
func (e *Engine) State(yy, yp []float64) Flag {
	if !e.initialized {
		return ErrMem
	}
	copy(yy, e.yy)
	copy(yp, e.yp)
	return Success
}

// Stats returns the diagnostics counters for this direction.
func (e *Engine) Stats() dae.Stats {
	return dae.Stats{
		Steps:        e.nst,
		ResEvals:     e.nre,
		LinSetups:    e.nsetups,
		ErrTestFails: e.netf,
		LastOrder:    e.kPrev,
		CurrentOrder: e.order,
		FirstStep:    e.hinused,
		LastStep:     e.hPrev,
		CurrentStep:  e.hh,
		CurrentTime:  e.t,
	}
}

// Solve advances the solution to tout without taping.
func (e *Engine) Solve(tout float64) (float64, Flag) {
	e.taping = false
	flag := e.solveTo(tout)
	return e.t, flag
}

func firstOr(atol []float64) float64 {
	if len(atol) > 0 {
		return atol[0]
	}
	return 1e-8
}

func (e *Engine) atolAt(i int) float64 {
	if len(e.atol) == 1 {
		return e.atol[0]
	}
	return e.atol[i]
}

func (e *Engine) loadWeights() {
	for i := 0; i < e.n; i++ {
		e.wt[i] = 1.0 / (e.rtol*math.Abs(e.yy[i]) + e.atolAt(i))
	}
}

// wrms computes the weighted RMS norm of v. When suppress is set,
// algebraic components are excluded.
func (e *Engine) wrms(v []float64, suppress bool) float64 {
	sum := 0.0
	cnt := 0
	for i := 0; i < e.n; i++ {
		if suppress && e.id != nil && e.id[i] == 0 {
			continue
		}
		w := v[i] * e.wt[i]
		sum += w * w
		cnt++
	}
	if cnt == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(cnt))
}

func (e *Engine) initialStep(tout float64) float64 {
	h := 0.001 * math.Abs(tout-e.t)
	if h == 0 {
		h = 1e-6
	}
	if e.maxStep > 0 && h > e.maxStep {
		h = e.maxStep
	}
	if h < 1e-12 {
		h = 1e-12
	}
	return e.dir * h
}

func (e *Engine) solveTo(tout float64) Flag {
	if !e.initialized {
		return ErrMem
	}
	if e.ls == nil {
		return ErrLinInit
	}
	ttol := 1e-12 * math.Max(1, math.Abs(tout))
	if e.dir*(tout-e.t) <= ttol {
		if math.Abs(tout-e.t) <= ttol {
			return Success
		}
		return ErrIllInput
	}
	if e.hasTstop && e.dir*(e.t-e.tstop) > ttol {
		return ErrIllInput
	}
	if e.hh == 0 {
		e.hh = e.initialStep(tout)
	}
	nlocal := 0
	for e.dir*(tout-e.t) > ttol {
		if nlocal >= e.maxSteps {
			return ErrTooMuchWork
		}
		hitTout := false
		hitTstop := false
		if e.dir*(e.t+e.hh-tout) > 0 {
			e.hh = tout - e.t
			hitTout = true
		}
		if e.hasTstop && e.dir*(e.t+e.hh-e.tstop) > 0 {
			e.hh = e.tstop - e.t
			hitTstop = true
			if math.Abs(e.hh) <= ttol {
				// Already sitting on the stop time.
				e.t = e.tstop
				return TstopReturn
			}
		}
		if flag := e.step(); flag.Fatal() {
			return flag
		}
		nlocal++
		if hitTout && math.Abs(e.t-tout) <= ttol {
			e.t = tout
		}
		if hitTstop && math.Abs(e.t-e.tstop) <= ttol {
			e.t = e.tstop
			if e.dir*(tout-e.tstop) > ttol {
				return TstopReturn
			}
			return Success
		}
	}
	return Success
}

// step takes one BDF step of the current order at step size e.hh,
// retrying with reduced sizes on Newton or error-test failures.
func (e *Engine) step() Flag {
	errFails := 0
	convFails := 0
	for {
		h := e.hh
		tNew := e.t + h

		// Predictor and derivative formula coefficients.
		var b, c float64
		useBDF2 := e.order == 2 && e.haveHist && e.hPrev != 0
		if useBDF2 {
			hp := e.hPrev
			h2 := h + hp
			e.cj = 1/h + 1/h2
			b = -h2 / (h * hp)
			c = h / (h2 * hp)
			for i := 0; i < e.n; i++ {
				d := (e.yPrev[i] - e.yy[i] + hp*e.yp[i]) / (hp * hp)
				e.pred[i] = e.yy[i] + h*e.yp[i] + d*h*h
				e.ypConst[i] = b*e.yy[i] + c*e.yPrev[i]
			}
		} else {
			e.cj = 1 / h
			for i := 0; i < e.n; i++ {
				e.pred[i] = e.yy[i] + h*e.yp[i]
				e.ypConst[i] = -e.yy[i] / h
			}
		}

		e.loadWeights()

		flag, recoverable := e.newton(tNew)
		if flag.Fatal() {
			return flag
		}
		if recoverable {
			e.ncfn++
			convFails++
			if convFails >= maxConvFails {
				return ErrConvFail
			}
			e.hh *= 0.25
			e.needSetup = true
			if e.stepTooSmall() {
				return ErrConvFail
			}
			continue
		}

		// Local error test.
		ck := 0.5
		if useBDF2 {
			ck = 1.0 / 3.0
		}
		for i := 0; i < e.n; i++ {
			e.delta[i] = e.cand[i] - e.pred[i]
		}
		enorm := ck * e.wrms(e.delta, e.suppressAlg)

		qflag, qnorm := e.quadIncrement(tNew)
		if qflag.Fatal() {
			return qflag
		}
		if qflag > 0 {
			// Recoverable quadrature failure: treat like an error-test reject.
			enorm = math.Max(enorm, 2)
		} else if e.quadErrCon {
			enorm = math.Max(enorm, qnorm)
		}

		if enorm > 1 {
			e.netf++
			errFails++
			if errFails >= maxErrFails {
				return ErrErrFail
			}
			eta := safety * math.Pow(enorm, -1.0/float64(e.order+1))
			e.hh = h * math.Max(etaMin, math.Min(eta, 0.9))
			if errFails > 2 {
				e.order = 1
			}
			if e.stepTooSmall() {
				return ErrErrFail
			}
			continue
		}

		// Accept the step.
		e.accept(tNew, h)

		eta := etaMax
		if enorm > 0 {
			eta = safety * math.Pow(enorm, -1.0/float64(e.order+1))
			eta = math.Max(etaMin, math.Min(eta, etaMax))
		}
		e.hh = h * eta
		if e.maxStep > 0 && math.Abs(e.hh) > e.maxStep {
			e.hh = e.dir * e.maxStep
		}
		if e.order < e.maxOrder {
			e.order++
		}
		return Success
	}
}

func (e *Engine) stepTooSmall() bool {
	return math.Abs(e.hh) < 1e-14*math.Max(1, math.Abs(e.t))
}

func (e *Engine) accept(tNew, h float64) {
	copy(e.yPrev, e.yy)
	copy(e.yy, e.cand)
	copy(e.yp, e.candP)
	if e.quadFn != nil {
		copy(e.qdot, e.qdotNew)
		e.qdotValid = true
		floats.Add(e.q, e.qScratch)
	}
	e.t = tNew
	e.kPrev = e.order
	e.hPrev = h
	e.haveHist = true
	if e.nst == 0 {
		e.hinused = h
	}
	e.nst++
	if e.taping && e.adj != nil {
		e.adj.record(e.t, e.yy, e.yp)
	}
}

// newton runs the modified Newton iteration at tNew starting from the
// predictor. On success the accepted candidate is in e.cand/e.candP.
func (e *Engine) newton(tNew float64) (Flag, bool) {
	copy(e.cand, e.pred)
	for i := 0; i < e.n; i++ {
		e.candP[i] = e.cj*e.cand[i] + e.ypConst[i]
	}

	freshSetup := false
	needNow := e.needSetup || e.cjLsetup == 0
	if !needNow {
		if r := e.cj / e.cjLsetup; r < cjRatioLow || r > cjRatioHigh {
			needNow = true
		}
	}
	if needNow {
		if code := e.setupNeededNow(tNew); code != 0 {
			if code < 0 {
				return ErrLsetupFail, false
			}
			return Success, true
		}
		freshSetup = true
	}

	dnormPrev := 0.0
	for iter := 0; iter < maxNewtonIter; iter++ {
		e.nre++
		code := e.res(tNew, e.cand, e.candP, e.rr)
		if code < 0 {
			return ErrResFail, false
		}
		if code > 0 {
			return Success, true
		}

		copy(e.delta, e.rr)
		code = e.ls.Solve(e.delta, tNew, e.cand, e.candP, e.cj, e.cj/e.cjLsetup)
		if code < 0 {
			return ErrLsolveFail, false
		}
		if code > 0 {
			if !freshSetup {
				e.needSetup = true
			}
			return Success, true
		}

		for i := 0; i < e.n; i++ {
			e.cand[i] -= e.delta[i]
			e.candP[i] -= e.cj * e.delta[i]
		}

		dnorm := e.wrms(e.delta, false)
		if dnorm <= newtonTol {
			return Success, false
		}
		if iter > 0 && dnorm > 0.9*dnormPrev {
			break
		}
		dnormPrev = dnorm
	}

	// Not converged: force a fresh setup once before reducing the step.
	if !freshSetup {
		e.needSetup = true
		copy(e.cand, e.pred)
		for i := 0; i < e.n; i++ {
			e.candP[i] = e.cj*e.cand[i] + e.ypConst[i]
		}
		if code := e.setupNeededNow(tNew); code != 0 {
			if code < 0 {
				return ErrLsetupFail, false
			}
			return Success, true
		}
		dnormPrev = 0
		for iter := 0; iter < maxNewtonIter; iter++ {
			e.nre++
			code := e.res(tNew, e.cand, e.candP, e.rr)
			if code < 0 {
				return ErrResFail, false
			}
			if code > 0 {
				return Success, true
			}
			copy(e.delta, e.rr)
			code = e.ls.Solve(e.delta, tNew, e.cand, e.candP, e.cj, 1)
			if code < 0 {
				return ErrLsolveFail, false
			}
			if code > 0 {
				return Success, true
			}
			for i := 0; i < e.n; i++ {
				e.cand[i] -= e.delta[i]
				e.candP[i] -= e.cj * e.delta[i]
			}
			dnorm := e.wrms(e.delta, false)
			if dnorm <= newtonTol {
				return Success, false
			}
			if iter > 0 && dnorm > 0.9*dnormPrev {
				break
			}
			dnormPrev = dnorm
		}
	}
	return Success, true
}

// setupNeededNow invokes the linear-solver setup and forwards its code:
// 0 installs the factorization for the current cj, nonzero leaves the
// setup pending so the next attempt runs it again.
func (e *Engine) setupNeededNow(tNew float64) int {
	e.nsetups++
	code := e.ls.Setup(tNew, e.cand, e.candP, e.cj)
	if code != 0 {
		e.needSetup = true
		return code
	}
	e.cjLsetup = e.cj
	e.needSetup = false
	return 0
}

// quadIncrement evaluates the trapezoid increment for the quadratures over
// the candidate step, leaving it in e.qScratch. It returns a recoverable
// flag (>0) when the rate callback asks for a retry and a weighted error
// norm contribution when quadrature error control is enabled.
func (e *Engine) quadIncrement(tNew float64) (Flag, float64) {
	if e.quadFn == nil {
		return Success, 0
	}
	if !e.qdotValid {
		if code := e.quadFn(e.t, e.yy, e.yp, e.qdot); code != 0 {
			if code < 0 {
				return ErrQuadFail, 0
			}
			return Flag(code), 0
		}
		e.qdotValid = true
	}
	if code := e.quadFn(tNew, e.cand, e.candP, e.qdotNew); code != 0 {
		if code < 0 {
			return ErrQuadFail, 0
		}
		return Flag(code), 0
	}
	h := tNew - e.t
	qnorm := 0.0
	for i := range e.qScratch {
		e.qScratch[i] = 0.5 * h * (e.qdot[i] + e.qdotNew[i])
		if e.quadErrCon {
			est := 0.5 * math.Abs(h) * math.Abs(e.qdotNew[i]-e.qdot[i])
			w := 1.0 / (e.qrtol*math.Abs(e.q[i]) + e.qatol)
			qnorm = math.Max(qnorm, est*w/3)
		}
	}
	return Success, qnorm
}
