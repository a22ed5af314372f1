package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/daesolve/internal/linsol"
)

func TestGetModel(t *testing.T) {
	r := NewRegistry()
	p, err := r.GetModel("pendulum")
	require.NoError(t, err)
	assert.Equal(t, "pendulum", p.Name)
	assert.Equal(t, 4, p.Dims.NX)
	assert.Equal(t, 1, p.Dims.NZ)
}

func TestGetModelUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetModel("lorenz")
	assert.Error(t, err)
}

func TestGetModelWithOverrides(t *testing.T) {
	r := NewRegistry()
	p, err := r.GetModelWith("pendulum", map[string]float64{"length": 3})
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.X0[0])

	_, err = r.GetModelWith("pendulum", map[string]float64{"bogus": 1})
	assert.Error(t, err)
}

func TestListModels(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"oscillator", "pendulum", "robertson"}, r.ListModels())
}

func TestGetLinear(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"", "direct", "dense"} {
		strat, err := r.GetLinear(name, 0, false)
		require.NoError(t, err, name)
		assert.IsType(t, linsol.Direct{}, strat, name)
	}

	strat, err := r.GetLinear("gmres", 15, true)
	require.NoError(t, err)
	k, ok := strat.(linsol.Krylov)
	require.True(t, ok)
	assert.Equal(t, linsol.GMRES, k.Kind)
	assert.Equal(t, 15, k.MaxDim)
	assert.True(t, k.UsePrecond)

	strat, err = r.GetLinear("tfqmr", 0, false)
	require.NoError(t, err)
	assert.Equal(t, linsol.TFQMR, strat.(linsol.Krylov).Kind)

	_, err = r.GetLinear("cholesky", 0, false)
	assert.Error(t, err)
}
