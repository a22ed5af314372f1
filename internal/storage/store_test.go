package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/daesolve/internal/dae"
	"github.com/san-kum/daesolve/internal/sim"
)

func sampleResult() *sim.Result {
	return &sim.Result{
		Times: []float64{0, 0.5, 1},
		X: [][]float64{
			{1, 0},
			{0.8, -0.4},
			{0.5, -0.6},
		},
		Z: [][]float64{{0.1}, {0.2}, {0.3}},
		Q: [][]float64{{0}, {0.4}, {0.7}},
		Stats: dae.Stats{
			Steps:        42,
			ResEvals:     120,
			LinSetups:    7,
			ErrTestFails: 1,
		},
		Checkpoints: 3,
	}
}

func TestSaveLoadRun(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	runID, err := s.Save("oscillator", 0, 1, 1e-6, 1e-8, sampleResult())
	require.NoError(t, err)
	assert.Contains(t, runID, "oscillator_")

	meta, err := s.Load(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, meta.ID)
	assert.Equal(t, "oscillator", meta.Model)
	assert.Equal(t, 42, meta.Steps)
	assert.Equal(t, 1e-6, meta.RelTol)
	assert.Equal(t, 3, meta.Checkpoints)
}

func TestLoadTrajectory(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	runID, err := s.Save("oscillator", 0, 1, 1e-6, 1e-8, sampleResult())
	require.NoError(t, err)

	cols, rows, err := s.LoadTrajectory(runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "x0", "x1", "z0", "q0"}, cols)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{0, 1, 0, 0.1, 0}, rows[0])
	assert.Equal(t, []float64{1, 0.5, -0.6, 0.3, 0.7}, rows[2])
}

func TestList(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	_, err := s.Save("pendulum", 0, 10, 1e-6, 1e-8, sampleResult())
	require.NoError(t, err)

	runs, err := s.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "pendulum", runs[0].Model)
}

func TestListSkipsForeignDirs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Init())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-run"), 0755))

	runs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLoadUnknownRun(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	_, err := s.Load("missing_123")
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	adj := &sim.AdjointResult{RQ: []float64{-0.3, 0.9}}
	require.NoError(t, ExportJSON(path, "oscillator", 0, 1, sampleResult(), adj))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var data ExportData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "oscillator", data.Model)
	assert.Equal(t, 42, data.Steps)
	assert.Len(t, data.Times, 3)
	assert.Equal(t, []float64{-0.3, 0.9}, data.Gradient)
}

func TestExportJSONWithoutAdjoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, ExportJSON(path, "pendulum", 0, 10, sampleResult(), nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "gradient")
}
