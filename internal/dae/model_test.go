package dae

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Nonlinear test system with known derivatives:
//
//	ode = x0*x1 + p0
//	alg = x0^2 - z0
func testModel() *FuncModel {
	return &FuncModel{
		Dims: Dimensions{NX: 2, NZ: 1},
		DAEF: func(t float64, x, z, p, ode, alg []float64) error {
			ode[0] = x[0]*x[1] + p[0]
			ode[1] = -x[1]
			alg[0] = x[0]*x[0] - z[0]
			return nil
		},
	}
}

func TestFuncModelDAEFPacking(t *testing.T) {
	m := testModel()
	arg := [][]float64{{2, 3}, {4}, {0.5}, {1.0}}
	ode := make([]float64, 2)
	alg := make([]float64, 1)

	require.NoError(t, m.Eval(FnDAEF, arg, [][]float64{ode, alg}))
	assert.InDelta(t, 6.5, ode[0], 1e-14)
	assert.InDelta(t, -3.0, ode[1], 1e-14)
	assert.InDelta(t, 0.0, alg[0], 1e-14)
}

func TestFiniteDifferenceJacF(t *testing.T) {
	m := testModel()
	x := []float64{2, 3}
	z := []float64{4}
	p := []float64{0.5}
	cj := 7.0

	// Analytic Newton matrix over (x0, x1, z0):
	//
	//	[ x1-cj  x0    0 ]
	//	[ 0     -1-cj  0 ]
	//	[ 2*x0   0    -1 ]
	want := []float64{
		3 - cj, 2, 0,
		0, -1 - cj, 0,
		4, 0, -1,
	}

	jac := make([]float64, 9)
	arg := [][]float64{{0}, x, z, p, {cj}}
	require.NoError(t, m.Eval(FnJacF, arg, [][]float64{jac}))
	for i := range want {
		assert.InDelta(t, want[i], jac[i], 1e-5, "entry %d", i)
	}
}

func TestAnalyticJacFPreferred(t *testing.T) {
	m := testModel()
	called := false
	m.JacF = func(t float64, x, z, p []float64, cj float64, jac []float64) error {
		called = true
		for i := range jac {
			jac[i] = 0
		}
		return nil
	}
	jac := make([]float64, 9)
	arg := [][]float64{{0}, {2, 3}, {4}, {0.5}, {7.0}}
	require.NoError(t, m.Eval(FnJacF, arg, [][]float64{jac}))
	assert.True(t, called)
}

func TestFiniteDifferenceJTimesF(t *testing.T) {
	m := testModel()
	x := []float64{2, 3}
	z := []float64{4}
	p := []float64{0.5}
	vx := []float64{1, -1}
	vz := []float64{2}

	// J*v without the cj term:
	//
	//	jvx = [x1*v0 + x0*v1, -v1] = [1, 1]
	//	jvz = [2*x0*v0 - v2]       = [2]
	jvx := make([]float64, 2)
	jvz := make([]float64, 1)
	arg := [][]float64{{0}, x, z, p, vx, vz}
	require.NoError(t, m.Eval(FnJTimesF, arg, [][]float64{jvx, jvz}))
	assert.InDelta(t, 1.0, jvx[0], 1e-6)
	assert.InDelta(t, 1.0, jvx[1], 1e-6)
	assert.InDelta(t, 2.0, jvz[0], 1e-6)
}

func TestFiniteDifferenceJTimesZeroDirection(t *testing.T) {
	m := testModel()
	jvx := []float64{9, 9}
	jvz := []float64{9}
	arg := [][]float64{{0}, {2, 3}, {4}, {0.5}, {0, 0}, {0}}
	require.NoError(t, m.Eval(FnJTimesF, arg, [][]float64{jvx, jvz}))
	assert.Equal(t, []float64{0, 0}, jvx)
	assert.Equal(t, []float64{0}, jvz)
}

func TestFiniteDifferenceJacB(t *testing.T) {
	m := &FuncModel{
		Dims: Dimensions{NX: 1, NRX: 2},
		DAEB: func(t float64, rx, rz, rp, x, z, p, rode, ralg []float64) error {
			rode[0] = 2*rx[0] + rx[1]*x[0]
			rode[1] = -rx[1]
			return nil
		},
	}
	cj := 3.0
	want := []float64{
		2 + cj, 5,
		0, -1 + cj,
	}
	jac := make([]float64, 4)
	arg := [][]float64{{0}, {1, 1}, {}, {0.5}, {5}, {}, {}, {cj}}
	require.NoError(t, m.Eval(FnJacB, arg, [][]float64{jac}))
	for i := range want {
		assert.InDelta(t, want[i], jac[i], 1e-5, "entry %d", i)
	}
}

func TestEvalUnknownFunction(t *testing.T) {
	m := testModel()
	err := m.Eval("bogus", nil, nil)
	assert.Error(t, err)
}

func TestEvalMissingUnit(t *testing.T) {
	m := testModel()
	err := m.Eval(FnQuadF, [][]float64{{1}, {1}, {1}, {0}}, [][]float64{{0}})
	assert.Error(t, err)
}

func TestDimensionsValidate(t *testing.T) {
	assert.NoError(t, Dimensions{NX: 2}.Validate())
	assert.NoError(t, Dimensions{NX: 2, NZ: 1, NQ: 1, NRX: 2, NRQ: 1}.Validate())

	assert.ErrorIs(t, Dimensions{}.Validate(), ErrDimension)
	assert.ErrorIs(t, Dimensions{NX: -1}.Validate(), ErrDimension)
	assert.ErrorIs(t, Dimensions{NX: 1, NRZ: 1}.Validate(), ErrDimension)
	assert.ErrorIs(t, Dimensions{NX: 1, NRQ: 1}.Validate(), ErrDimension)
}

func TestRecoverableError(t *testing.T) {
	base := fmt.Errorf("residual blew up")
	err := Recoverable(base)
	assert.True(t, IsRecoverable(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsRecoverable(base))
	assert.NoError(t, Recoverable(nil))

	wrapped := fmt.Errorf("eval daeF: %w", err)
	assert.True(t, IsRecoverable(wrapped))
}
