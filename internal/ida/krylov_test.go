package ida

import (
	"math"
	"testing"

	"github.com/onsi/gomega"
)

// Two uncoupled decay modes integrated matrix-free: the Jacobian-vector
// product applies the full Newton matrix diag(-1, -10) - cj*I.
func newKrylovEngine(t *testing.T, kind KrylovKind, ps PSetupFn, psol PSolveFn) *Engine {
	t.Helper()
	e := New(2, 1)
	res := func(tt float64, yy, yp, rr []float64) int {
		rr[0] = -yy[0] - yp[0]
		rr[1] = -10*yy[1] - yp[1]
		return 0
	}
	if flag := e.Init(res, 0, []float64{1, 1}, []float64{-1, -10}); flag.Fatal() {
		t.Fatalf("Init: %v", flag)
	}
	if flag := e.SStolerances(1e-8, 1e-10); flag.Fatal() {
		t.Fatalf("SStolerances: %v", flag)
	}
	jt := func(tt float64, yy, yp, v, jv []float64, cj float64) int {
		jv[0] = (-1 - cj) * v[0]
		jv[1] = (-10 - cj) * v[1]
		return 0
	}
	if flag := e.AttachKrylov(kind, 5, jt, ps, psol); flag.Fatal() {
		t.Fatalf("AttachKrylov: %v", flag)
	}
	return e
}

func TestKrylovKinds(t *testing.T) {
	for _, kind := range []KrylovKind{GMRES, BiCGStab, TFQMR} {
		t.Run(kind.String(), func(t *testing.T) {
			g := gomega.NewWithT(t)
			e := newKrylovEngine(t, kind, nil, nil)
			tret, flag := e.Solve(1.0)
			g.Expect(flag.Fatal()).To(gomega.BeFalse(), "flag %v", flag)
			g.Expect(tret).To(gomega.BeNumerically("~", 1.0, 1e-10))

			yy := make([]float64, 2)
			yp := make([]float64, 2)
			e.State(yy, yp)
			g.Expect(yy[0]).To(gomega.BeNumerically("~", math.Exp(-1), 1e-4))
			g.Expect(yy[1]).To(gomega.BeNumerically("~", math.Exp(-10), 1e-5))
		})
	}
}

func TestKrylovWithPreconditioner(t *testing.T) {
	g := gomega.NewWithT(t)
	var cjSaved float64
	ps := func(tt float64, yy, yp []float64, cj float64) int {
		cjSaved = cj
		return 0
	}
	psol := func(b []float64) int {
		// Exact inverse of the Newton matrix at the last setup.
		b[0] /= -1 - cjSaved
		b[1] /= -10 - cjSaved
		return 0
	}
	e := newKrylovEngine(t, GMRES, ps, psol)
	_, flag := e.Solve(1.0)
	g.Expect(flag.Fatal()).To(gomega.BeFalse(), "flag %v", flag)

	yy := make([]float64, 2)
	yp := make([]float64, 2)
	e.State(yy, yp)
	g.Expect(yy[0]).To(gomega.BeNumerically("~", math.Exp(-1), 1e-4))

	if st := e.Stats(); st.LinSetups == 0 {
		t.Error("expected preconditioner setups")
	}
}

func TestAttachKrylovRequiresJTimes(t *testing.T) {
	e := New(1, 1)
	if flag := e.AttachKrylov(GMRES, 5, nil, nil, nil); flag != ErrIllInput {
		t.Fatalf("expected %v, got %v", ErrIllInput, flag)
	}
}

func TestKrylovKindStrings(t *testing.T) {
	if GMRES.String() != "gmres" || BiCGStab.String() != "bcgstab" || TFQMR.String() != "tfqmr" {
		t.Error("unexpected kind names")
	}
}

func TestGMRESSolvesLinearSystem(t *testing.T) {
	g := gomega.NewWithT(t)
	// 3x3 SPD system solved directly through the iterative kernel.
	a := [3][3]float64{
		{4, 1, 0},
		{1, 3, 1},
		{0, 1, 2},
	}
	atimes := func(v, jv []float64) int {
		for i := 0; i < 3; i++ {
			jv[i] = 0
			for j := 0; j < 3; j++ {
				jv[i] += a[i][j] * v[j]
			}
		}
		return 0
	}
	b := []float64{1, 2, 3}

	x, code := gmres(3, 3, 2, atimes, b, 1e-12)
	g.Expect(code).To(gomega.Equal(0))

	// Verify A*x = b.
	check := make([]float64, 3)
	atimes(x, check)
	for i := range b {
		g.Expect(check[i]).To(gomega.BeNumerically("~", b[i], 1e-9))
	}
}

func TestBiCGStabSolvesLinearSystem(t *testing.T) {
	g := gomega.NewWithT(t)
	a := [2][2]float64{
		{3, 1},
		{1, 2},
	}
	atimes := func(v, jv []float64) int {
		jv[0] = a[0][0]*v[0] + a[0][1]*v[1]
		jv[1] = a[1][0]*v[0] + a[1][1]*v[1]
		return 0
	}
	b := []float64{5, 5}

	x, code := bicgstab(2, 20, atimes, b, 1e-12)
	g.Expect(code).To(gomega.Equal(0))
	g.Expect(x[0]).To(gomega.BeNumerically("~", 1.0, 1e-9))
	g.Expect(x[1]).To(gomega.BeNumerically("~", 2.0, 1e-9))
}

func TestTFQMRSolvesLinearSystem(t *testing.T) {
	g := gomega.NewWithT(t)
	a := [2][2]float64{
		{3, 1},
		{1, 2},
	}
	atimes := func(v, jv []float64) int {
		jv[0] = a[0][0]*v[0] + a[0][1]*v[1]
		jv[1] = a[1][0]*v[0] + a[1][1]*v[1]
		return 0
	}
	b := []float64{5, 5}

	x, code := tfqmr(2, 20, atimes, b, 1e-10)
	g.Expect(code).To(gomega.Equal(0))
	g.Expect(x[0]).To(gomega.BeNumerically("~", 1.0, 1e-7))
	g.Expect(x[1]).To(gomega.BeNumerically("~", 2.0, 1e-7))
}
