// Package linsol provides the pluggable linear-solver strategies a session
// attaches to the integration engine: a direct dense factorization bridge
// and the configuration for the engine's matrix-free Krylov iteration.
package linsol

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Kind selects the Krylov iteration.
type Kind int

const (
	GMRES Kind = iota
	BiCGStab
	TFQMR
)

func (k Kind) String() string {
	switch k {
	case GMRES:
		return "gmres"
	case BiCGStab:
		return "bcgstab"
	case TFQMR:
		return "tfqmr"
	}
	return "unknown"
}

// ParseKind maps a configuration string to a Krylov kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "gmres":
		return GMRES, nil
	case "bcgstab", "bicgstab":
		return BiCGStab, nil
	case "tfqmr":
		return TFQMR, nil
	}
	return GMRES, fmt.Errorf("linsol: unknown krylov method %q", s)
}

// Strategy selects how the Newton systems are solved.
type Strategy interface{ strategy() }

// Direct substitutes the engine's linear algebra with Jacobian evaluation
// through the model followed by a dense LU factorization.
type Direct struct{}

func (Direct) strategy() {}

// Krylov attaches one of the engine's matrix-free iterative methods, fed by
// the model's Jacobian-times-vector unit and, optionally, a preconditioner
// built from the factorized Jacobian.
type Krylov struct {
	Kind       Kind
	MaxDim     int // Krylov subspace dimension; 0 selects the engine default
	UsePrecond bool
}

func (Krylov) strategy() {}

// ErrSingular indicates a Jacobian too ill-conditioned to factorize.
var ErrSingular = errors.New("linsol: jacobian is singular to working precision")

// Bridge owns the factorization state for the current Jacobian
// approximation. A factorization is valid from one setup to the next and
// is rebuilt whenever cj changes.
type Bridge struct {
	n          int
	jac        *mat.Dense
	lu         mat.LU
	factorized bool
}

// NewBridge allocates a bridge for n-by-n systems.
func NewBridge(n int) *Bridge {
	return &Bridge{n: n, jac: mat.NewDense(n, n, nil)}
}

// N returns the system size.
func (b *Bridge) N() int { return b.n }

// SetJacobian loads a dense row-major Jacobian for factorization.
func (b *Bridge) SetJacobian(data []float64) error {
	if len(data) != b.n*b.n {
		return fmt.Errorf("linsol: jacobian has %d entries, want %d", len(data), b.n*b.n)
	}
	copy(b.jac.RawMatrix().Data, data)
	b.factorized = false
	return nil
}

// Factorize prepares the loaded Jacobian for repeated solves.
func (b *Bridge) Factorize() error {
	b.lu.Factorize(b.jac)
	if b.lu.Cond() > 1/condEps {
		b.factorized = false
		return ErrSingular
	}
	b.factorized = true
	return nil
}

// Solve overwrites rhs with the solution of the factorized system.
func (b *Bridge) Solve(rhs []float64) error {
	if !b.factorized {
		return errors.New("linsol: solve before factorize")
	}
	if len(rhs) != b.n {
		return fmt.Errorf("linsol: rhs has length %d, want %d", len(rhs), b.n)
	}
	v := mat.NewVecDense(b.n, rhs)
	var x mat.VecDense
	if err := b.lu.SolveVecTo(&x, false, v); err != nil {
		return err
	}
	for i := 0; i < b.n; i++ {
		rhs[i] = x.AtVec(i)
	}
	return nil
}

const condEps = 2.220446049250313e-16
