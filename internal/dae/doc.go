// Package dae defines the shared vocabulary for differential-algebraic
// integration sessions: problem dimensions, the model-evaluation contract,
// error kinds and solver diagnostics.
//
// A model is a collection of named evaluable units. The session layer packs
// argument and result buffers and asks an [Evaluator] to fill them:
//
//   - daeF:   forward residual (ode, alg) of (x, z, p, t)
//   - quadF:  forward quadrature rate of (x, z, p, t)
//   - daeB:   backward residual (rode, ralg) of (rx, rz, rp, x, z, p, t)
//   - quadB:  backward quadrature rate of (rx, rz, rp, x, z, p, t)
//   - jacF:   forward Newton matrix of (t, x, z, p, cj)
//   - jacB:   backward Newton matrix of (t, rx, rz, rp, x, z, p, cj)
//   - jtimesF, jtimesB: Jacobian-times-vector products
//
// [FuncModel] adapts plain Go closures to this contract and fills missing
// Jacobian units with finite differences.
package dae
