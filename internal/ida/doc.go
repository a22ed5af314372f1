// Package ida implements an implicit multistep engine for index-1
// differential-algebraic systems F(t, y, y') = 0.
//
// The stepper is a variable-step BDF of order 1-2 with a modified Newton
// iteration. Linear algebra is delegated to an attached [LinearSolver],
// either a caller-supplied direct bridge or the built-in matrix-free
// Krylov iteration ([AttachKrylov]). Callbacks return integer codes: zero
// for success, positive for a recoverable failure the stepper may retry
// with a smaller step, negative for a fatal failure.
//
// Alongside the state the engine can accumulate quadratures, recover
// consistent initial conditions for the algebraic components ([Engine.CalcIC])
// and, when the adjoint module is initialized ([Engine.AdjInit]), tape the
// forward trajectory so backward problems can interpolate it during
// reverse-time integration.
//
// Call ordering follows the usual implicit-solver discipline: New, setters,
// Init (or ReInit), optional CalcIC, then Solve/SolveF; backward problems
// are created with CreateB and driven with SolveB only after a taped
// forward pass.
package ida
