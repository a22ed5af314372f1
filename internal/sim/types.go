package sim

import "github.com/san-kum/daesolve/internal/dae"

// Result holds one forward trajectory sampled on the output grid.
type Result struct {
	Times []float64
	X     [][]float64
	Z     [][]float64
	Q     [][]float64

	Stats       dae.Stats
	Checkpoints int
}

// AdjointResult holds the backward trajectory and the final backward
// quadratures, the gradient accumulated down to the initial time.
type AdjointResult struct {
	Times []float64
	RX    [][]float64
	RQ    []float64

	Stats dae.Stats
}

// Observer is called after every accepted output point; returning
// false stops the run early.
type Observer func(t float64, x, z, q []float64) bool

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
