package registry

import (
	"fmt"
	"sort"

	"github.com/san-kum/daesolve/internal/linsol"
	"github.com/san-kum/daesolve/internal/models"
)

// Registry maps names to model and linear-solver factories.
type Registry struct {
	models map[string]func() models.Builder
}

func NewRegistry() *Registry {
	r := &Registry{
		models: make(map[string]func() models.Builder),
	}

	r.models["pendulum"] = func() models.Builder { return models.NewPendulum() }
	r.models["robertson"] = func() models.Builder { return models.NewRobertson() }
	r.models["oscillator"] = func() models.Builder { return models.NewOscillator() }

	return r
}

func (r *Registry) GetModel(name string) (*models.Problem, error) {
	return r.GetModelWith(name, nil)
}

// GetModelWith builds a model with named parameter overrides applied.
func (r *Registry) GetModelWith(name string, params map[string]float64) (*models.Problem, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	b := fn()
	for k, v := range params {
		if err := b.SetParam(k, v); err != nil {
			return nil, err
		}
	}
	return b.Problem(), nil
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLinear resolves a solver name to a strategy; empty means direct.
func (r *Registry) GetLinear(name string, maxDim int, precond bool) (linsol.Strategy, error) {
	if name == "" || name == "direct" || name == "dense" {
		return linsol.Direct{}, nil
	}
	kind, err := linsol.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return linsol.Krylov{Kind: kind, MaxDim: maxDim, UsePrecond: precond}, nil
}
