// Package session drives numerical integration of DAE systems: forward
// state and quadrature propagation, consistent-initial-condition recovery,
// and backward (adjoint) propagation over an interpolated forward
// trajectory.
//
// A [Session] is the immutable setup: model evaluator, dimensions, horizon
// and options. Each concurrently-active integration owns one [Memory],
// created by [Session.NewMemory] and released with [Memory.Close]. The
// session bridges the engine's callbacks to the model: residuals,
// Jacobians, Jacobian-vector products and preconditioners are packed into
// argument buffers, evaluated, and corrected for the derivative-scaling
// coefficient cj before being handed back.
//
// Typical use:
//
//	s, err := session.New(model, dims, 0, 10, session.DefaultOptions())
//	m, err := s.NewMemory()
//	defer m.Close()
//	err = s.Reset(m, 0, x0, z0, p)
//	err = s.Advance(m, t, x, z, q)
//	err = s.ResetB(m, 10, rx0, rz0, rp)
//	err = s.Retreat(m, t, rx, rz, rq)
package session
