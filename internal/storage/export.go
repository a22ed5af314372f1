package storage

import (
	"encoding/json"
	"os"

	"github.com/san-kum/daesolve/internal/sim"
)

type ExportData struct {
	Model    string      `json:"model"`
	T0       float64     `json:"t0"`
	TF       float64     `json:"tf"`
	Steps    int         `json:"steps"`
	Times    []float64   `json:"times"`
	States   [][]float64 `json:"states"`
	Algebra  [][]float64 `json:"algebraic"`
	Quads    [][]float64 `json:"quadratures"`
	Gradient []float64   `json:"gradient,omitempty"`
}

// ExportJSON writes one run, optionally with its adjoint gradient, to
// a single JSON file.
func ExportJSON(path, model string, t0, tf float64, result *sim.Result, adj *sim.AdjointResult) error {
	data := ExportData{
		Model:   model,
		T0:      t0,
		TF:      tf,
		Steps:   result.Stats.Steps,
		Times:   result.Times,
		States:  result.X,
		Algebra: result.Z,
		Quads:   result.Q,
	}
	if adj != nil {
		data.Gradient = adj.RQ
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
